// Package render fills per-recipient placeholders into a broadcast message.
package render

import (
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{"
	endTag   = "}"
)

type Recipient struct {
	Name    string
	Address string
}

// Render replaces every {name} and {phone} with the recipient's values.
// Any other placeholder and any stray brace is written back untouched.
func Render(template string, recipient Recipient) string {
	return fasttemplate.ExecuteFuncString(template, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		//a stray start tag makes the tag swallow text up to the real placeholder, e.g. ":{ Hi {name"
		prefix := ""
		if i := strings.LastIndex(tag, startTag); i >= 0 {
			prefix, tag = startTag+tag[:i], tag[i+len(startTag):]
		}

		value, ok := lookup(tag, recipient)
		if !ok {
			return io.WriteString(w, prefix+startTag+tag+endTag)
		}
		return io.WriteString(w, prefix+value)
	})
}

func lookup(tag string, recipient Recipient) (string, bool) {
	switch tag {
	case "name":
		return recipient.Name, true
	case "phone":
		return recipient.Address, true
	default:
		return "", false
	}
}
