package wire

import (
	"testing"
)

func TestFrameBufferSplitReads(t *testing.T) {
	// A command split across two partial reads must still yield exactly
	// one frame.
	var fb FrameBuffer

	fb.Feed([]byte("account li"))
	if _, ok, err := fb.Next(); ok || err != nil {
		t.Fatalf("unexpected frame from partial read: ok=%v err=%v", ok, err)
	}

	fb.Feed([]byte("st\r\n"))
	frame, ok, err := fb.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || frame != "account list" {
		t.Errorf("got frame %q (ok=%v), want %q", frame, ok, "account list")
	}

	if _, ok, _ := fb.Next(); ok {
		t.Error("expected no second frame")
	}
}

func TestFrameBufferMultipleFrames(t *testing.T) {
	var fb FrameBuffer
	fb.Feed([]byte("help\r\nbye\r\ntrail"))

	want := []string{"help", "bye"}
	for _, w := range want {
		frame, ok, err := fb.Next()
		if err != nil || !ok {
			t.Fatalf("Next() = %q, %v, %v, want %q", frame, ok, err, w)
		}
		if frame != w {
			t.Errorf("got frame %q, want %q", frame, w)
		}
	}

	if _, ok, _ := fb.Next(); ok {
		t.Error("trailing bytes must not form a frame")
	}
	if fb.Len() != len("trail") {
		t.Errorf("buffered length = %d, want %d", fb.Len(), len("trail"))
	}
}

func TestFrameBufferInvalidUTF8(t *testing.T) {
	var fb FrameBuffer
	fb.Feed([]byte{0xff, 0xfe, '\r', '\n'})

	if _, _, err := fb.Next(); err != ErrInvalidEncoding {
		t.Errorf("got error %v, want ErrInvalidEncoding", err)
	}
}

func TestReplyFormats(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "Info",
			got:  Info("new account added."),
			want: "info: new account added.",
		},
		{
			name: "Error",
			got:  Error("invalid account"),
			want: "error: invalid account",
		},
		{
			name: "Account",
			got:  AccountLine(0, "", "xmpp", "alice@example.com", "online"),
			want: "account: 0 () xmpp alice@example.com [online]",
		},
		{
			name: "Buddy",
			got:  BuddyLine(1, "available", "bob@example.com", "Bob"),
			want: "buddy: 1 status: available name: bob@example.com alias: Bob",
		},
		{
			name: "Status",
			got:  StatusLine(2, "away"),
			want: "status: account 2 status: away",
		},
		{
			name: "Message",
			got:  MessageLine(0, "alice@example.com", 1700000000, "bob@example.com", "hi"),
			want: "message: 0 alice@example.com 1700000000 bob@example.com hi",
		},
		{
			name: "ChatUser",
			got:  ChatUserLine(0, "room@muc", "carol", "Carol", "join"),
			want: "chat: user: 0 room@muc carol Carol join",
		},
		{
			name: "ChatList",
			got:  ChatListLine(0, "room@muc", "room@muc", "alice"),
			want: "chat: list: 0 room@muc room@muc alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestEscapeBody(t *testing.T) {
	got := EscapeBody("a <b>\nc & d")
	want := "a &lt;b&gt;<br/>c &amp; d"
	if got != want {
		t.Errorf("EscapeBody() = %q, want %q", got, want)
	}
}

func TestUnescapeBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "Entities", in: "a &lt;b&gt;", want: "a <b>"},
		{name: "LineBreak", in: "one<br/>two", want: "one\ntwo"},
		{name: "LineBreakUpperCase", in: "one<BR/>two", want: "one\ntwo"},
		{name: "RoundTrip", in: EscapeBody("x\ny & z"), want: "x\ny & z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UnescapeBody(tt.in); got != tt.want {
				t.Errorf("UnescapeBody(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
