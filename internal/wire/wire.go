// Package wire implements the control protocol's framing and reply formats.
//
// The protocol is plain text. Every command and every reply line is
// terminated by the two-byte end-of-message sequence "\r\n" (EOM). A reply
// may span several lines; the formatting helpers here produce single lines
// without the terminator, callers join multi-line replies with EOM and the
// server appends the final EOM when writing a frame. This keeps the
// invariant that a reply line never contains the delimiter itself.
//
// The exact field order and spacing of the reply lines is part of the
// protocol contract: clients parse them positionally. Do not reorder fields
// or change spacing here without breaking every deployed client.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// EOM is the end-of-message sequence that frames every command and reply.
const EOM = "\r\n"

// ErrInvalidEncoding is returned by FrameBuffer.Next when a complete frame
// does not decode as valid UTF-8. The connection must be dropped; the
// remaining buffer contents cannot be trusted.
var ErrInvalidEncoding = errors.New("wire: frame is not valid UTF-8")

// FrameBuffer accumulates raw bytes from a socket and splits them into
// complete frames. Reads from a TCP stream can deliver half a command or
// three commands at once; the buffer hides that from the dispatch layer.
//
// A FrameBuffer is not safe for concurrent use. The protocol server owns
// exactly one per connection.
type FrameBuffer struct {
	buf []byte
}

// Feed appends raw bytes read from the connection.
func (fb *FrameBuffer) Feed(p []byte) {
	fb.buf = append(fb.buf, p...)
}

// Next extracts the next complete frame, if any. It returns the decoded
// frame text and true, or ("", false) when no full frame is buffered yet.
// A frame that is not valid UTF-8 returns ErrInvalidEncoding.
func (fb *FrameBuffer) Next() (string, bool, error) {
	i := bytes.Index(fb.buf, []byte(EOM))
	if i < 0 {
		return "", false, nil
	}

	frame := fb.buf[:i]
	fb.buf = fb.buf[i+len(EOM):]

	if !utf8.Valid(frame) {
		return "", false, ErrInvalidEncoding
	}
	return string(frame), true, nil
}

// Len returns the number of buffered bytes not yet part of a complete frame.
func (fb *FrameBuffer) Len() int {
	return len(fb.buf)
}

// Reply line formats. One constructor per line type observed on the wire.

// Info formats an informational reply.
func Info(text string) string {
	return fmt.Sprintf("info: %s", text)
}

// Error formats an error reply.
func Error(text string) string {
	return fmt.Sprintf("error: %s", text)
}

// AccountLine formats one entry of an "account list" reply.
func AccountLine(id int, name, accType, user, status string) string {
	return fmt.Sprintf("account: %d (%s) %s %s [%s]", id, name, accType, user, status)
}

// BuddyLine formats one entry of a buddy list reply.
func BuddyLine(id int, status, name, alias string) string {
	return fmt.Sprintf("buddy: %d status: %s name: %s alias: %s", id, status, name, alias)
}

// StatusLine formats the reply to "status get".
func StatusLine(id int, status string) string {
	return fmt.Sprintf("status: account %d status: %s", id, status)
}

// MessageLine formats a relayed message. The timestamp is in Unix seconds
// and the body must already be escaped with EscapeBody.
func MessageLine(id int, destination string, tstamp int64, sender, body string) string {
	return fmt.Sprintf("message: %d %s %d %s %s", id, destination, tstamp, sender, body)
}

// ChatUserLine formats one user of a group chat.
func ChatUserLine(id int, chat, user, alias, status string) string {
	return fmt.Sprintf("chat: user: %d %s %s %s %s", id, chat, user, alias, status)
}

// ChatListLine formats one entry of the joined-chat list.
func ChatListLine(id int, chat, alias, nick string) string {
	return fmt.Sprintf("chat: list: %d %s %s %s", id, chat, alias, nick)
}

var brPattern = regexp.MustCompile(`(?i)<br/>`)

// EscapeBody prepares a message body for the wire: HTML-escape it, then
// replace newlines with "<br/>" so the body stays on one reply line.
func EscapeBody(body string) string {
	return strings.ReplaceAll(html.EscapeString(body), "\n", "<br/>")
}

// UnescapeBody reverses EscapeBody for outbound messages: "<br/>" (any
// case) becomes a newline, then HTML entities are decoded.
func UnescapeBody(body string) string {
	return html.UnescapeString(brPattern.ReplaceAllString(body, "\n"))
}
