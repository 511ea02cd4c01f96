package syncfolder

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // registers non-UTF-8 charsets with go-message
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/parlorsh/parlor/internal/message"
)

// maxPartSize bounds a single MIME part read, protecting against a
// malicious or corrupt message with an unbounded part.
const maxPartSize = 32 * 1024 * 1024

// htmlSanitizer strips scripts, event handlers, and other active content
// from HTML bodies before they are stored, since BodyHTML is later
// rendered by the UI.
var htmlSanitizer = bluemonday.UGCPolicy()

// ParsedBody is the result of decoding a raw RFC 5322 message into the
// fields StoredMessage persists.
type ParsedBody struct {
	BodyText    string
	BodyHTML    string
	Attachments []message.Attachment
}

// ParseBody decodes raw into text/HTML bodies and attachment metadata. A
// message that fails to parse as MIME at all is treated as a bare
// plain-text body, never an error — degraded display beats dropping mail.
func ParseBody(raw []byte) ParsedBody {
	var out ParsedBody
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		out.BodyText = string(raw)
		return out
	}

	if mr := entity.MultipartReader(); mr != nil {
		parseMultipart(mr, &out)
	} else {
		parseSinglePart(entity, &out)
	}

	if out.BodyHTML != "" {
		out.BodyHTML = htmlSanitizer.Sanitize(out.BodyHTML)
	}
	return out
}

func parseMultipart(mr gomessage.MultipartReader, out *ParsedBody) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if !errors.Is(err, io.EOF) && !strings.Contains(err.Error(), "EOF") {
				break
			}
			break
		}

		contentType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		contentID := strings.Trim(part.Header.Get("Content-ID"), "<>")

		if disposition == "attachment" {
			out.Attachments = append(out.Attachments, attachmentMetadata(part, contentType, dispParams, contentID, contentID != ""))
			continue
		}
		if strings.HasPrefix(contentType, "multipart/") {
			if nested := part.MultipartReader(); nested != nil {
				parseMultipart(nested, out)
			}
			continue
		}
		if (disposition == "inline" && strings.HasPrefix(contentType, "image/")) ||
			(contentID != "" && strings.HasPrefix(contentType, "image/")) {
			out.Attachments = append(out.Attachments, attachmentMetadata(part, contentType, dispParams, contentID, true))
			continue
		}

		body, _ := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
		decoded := decodeCharset(body, params["charset"], contentType)

		switch contentType {
		case "text/plain":
			if out.BodyText == "" {
				out.BodyText = decoded
			}
		case "text/html":
			if out.BodyHTML == "" {
				out.BodyHTML = decoded
			}
		default:
			if contentType != "" && !strings.HasPrefix(contentType, "text/") {
				out.Attachments = append(out.Attachments, attachmentMetadata(part, contentType, dispParams, contentID, false))
			}
		}
	}
}

func parseSinglePart(entity *gomessage.Entity, out *ParsedBody) {
	contentType, params, _ := mime.ParseMediaType(entity.Header.Get("Content-Type"))
	body, _ := io.ReadAll(io.LimitReader(entity.Body, maxPartSize))
	decoded := decodeCharset(body, params["charset"], contentType)

	if contentType == "text/html" {
		out.BodyHTML = decoded
	} else {
		out.BodyText = decoded
	}
}

func attachmentMetadata(part *gomessage.Entity, contentType string, dispParams map[string]string, contentID string, inline bool) message.Attachment {
	filename := dispParams["filename"]
	if filename == "" {
		_, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		filename = params["name"]
	}
	return message.Attachment{
		Filename:    filename,
		ContentType: contentType,
		ContentID:   contentID,
		IsInline:    inline,
	}
}

// decodeCharset converts content to UTF-8 using the declared charset, or
// sniffs one from the content itself if none was declared or the
// declared name is unknown to the encoding registry.
func decodeCharset(content []byte, declared, contentType string) string {
	if declared == "" || strings.EqualFold(declared, "utf-8") || strings.EqualFold(declared, "us-ascii") {
		return string(content)
	}
	if enc, err := htmlindex.Get(declared); err == nil {
		if decoded, err := enc.NewDecoder().Bytes(content); err == nil {
			return string(decoded)
		}
	}
	enc, _, _ := charset.DetermineEncoding(content, contentType)
	decoded, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return string(content)
	}
	return string(decoded)
}
