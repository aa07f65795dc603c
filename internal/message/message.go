// Package message implements the immutable in-memory representation of a
// received email: its envelope snapshot, raw bytes, and lazily-derived
// headers and bodies.
package message

import (
	"bufio"
	"bytes"
	"strings"
	"sync"
	"time"
)

// Priority is the relay priority assigned to a message, either by policy
// or by the antispam pipeline.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Urgent
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "Low"
	case Normal:
		return "Normal"
	case High:
		return "High"
	case Urgent:
		return "Urgent"
	default:
		return "Unknown"
	}
}

// Envelope is the SMTP-level addressing information for a message,
// snapshotted at the moment DATA completed.
type Envelope struct {
	MailFrom string
	RcptTo   []string
	SizeHint int64
	Body     string // "7BIT" or "8BITMIME"
}

// Header is one RFC 5322 header field, preserving the original casing it
// was seen in on the wire.
type Header struct {
	Name  string
	Value string
}

// Message is the immutable record of a received mail, from the moment the
// DATA dot-terminator is seen. Header/body views are derived lazily and
// cached, since most messages are only inspected for a handful of fields
// (e.g. antispam headers, Message-ID).
type Message struct {
	ID         string
	Envelope   Envelope
	Raw        []byte
	Priority   Priority
	ReceivedAt time.Time

	once       sync.Once
	headers    []Header
	headerIdx  map[string][]int
	subject    string
	textBody   string
	htmlBody   string
	attachCnt  int
}

// New constructs a Message from its envelope and raw (dot-unstuffed,
// \n-terminated) body bytes.
func New(id string, env Envelope, raw []byte) *Message {
	return &Message{
		ID:         id,
		Envelope:   env,
		Raw:        raw,
		Priority:   Normal,
		ReceivedAt: time.Now(),
	}
}

// Size returns the byte count of the raw (de-dot-stuffed) message.
func (m *Message) Size() int64 {
	return int64(len(m.Raw))
}

func (m *Message) parse() {
	m.once.Do(func() {
		m.headerIdx = map[string][]int{}
		r := bufio.NewReader(bytes.NewReader(m.Raw))

		var cur *Header
		inHeaders := true
		var bodyBuf bytes.Buffer

		for {
			line, err := r.ReadString('\n')
			if line == "" && err != nil {
				break
			}
			trimmed := strings.TrimRight(line, "\r\n")

			if inHeaders {
				if trimmed == "" {
					inHeaders = false
					if cur != nil {
						m.appendHeader(*cur)
						cur = nil
					}
					if err != nil {
						break
					}
					continue
				}
				if (trimmed[0] == ' ' || trimmed[0] == '\t') && cur != nil {
					cur.Value += " " + strings.TrimSpace(trimmed)
				} else {
					if cur != nil {
						m.appendHeader(*cur)
					}
					name, val, ok := strings.Cut(trimmed, ":")
					if !ok {
						cur = nil
					} else {
						cur = &Header{Name: name, Value: strings.TrimSpace(val)}
					}
				}
			} else {
				bodyBuf.WriteString(trimmed)
				bodyBuf.WriteByte('\n')
			}

			if err != nil {
				break
			}
		}
		if inHeaders && cur != nil {
			m.appendHeader(*cur)
		}

		// Look headers up directly: calling m.Header here would re-enter
		// m.once.Do and deadlock.
		first := func(name string) string {
			if idx := m.headerIdx[name]; len(idx) > 0 {
				return m.headers[idx[0]].Value
			}
			return ""
		}
		m.subject = first("subject")
		ct := strings.ToLower(first("content-type"))
		body := bodyBuf.String()
		switch {
		case strings.Contains(ct, "text/html"):
			m.htmlBody = body
		default:
			m.textBody = body
		}
		if strings.Contains(ct, "multipart/mixed") {
			m.attachCnt = strings.Count(body, "Content-Disposition: attachment")
		}
	})
}

func (m *Message) appendHeader(h Header) {
	key := strings.ToLower(h.Name)
	m.headerIdx[key] = append(m.headerIdx[key], len(m.headers))
	m.headers = append(m.headers, h)
}

// Headers returns all parsed headers, in wire order.
func (m *Message) Headers() []Header {
	m.parse()
	return m.headers
}

// Header returns the value of the first occurrence of the named header
// (case-insensitive), or "" if absent.
func (m *Message) Header(name string) string {
	m.parse()
	idx, ok := m.headerIdx[strings.ToLower(name)]
	if !ok || len(idx) == 0 {
		return ""
	}
	return m.headers[idx[0]].Value
}

// HeaderAll returns the values of every occurrence of the named header
// (case-insensitive), in wire order.
func (m *Message) HeaderAll(name string) []string {
	m.parse()
	idx := m.headerIdx[strings.ToLower(name)]
	vals := make([]string, len(idx))
	for i, j := range idx {
		vals[i] = m.headers[j].Value
	}
	return vals
}

// Subject returns the value of the first Subject header, unfolded; RFC 2047
// encoded-words are not decoded.
func (m *Message) Subject() string {
	m.parse()
	return m.subject
}

// TextBody returns the plain-text body, if any.
func (m *Message) TextBody() string {
	m.parse()
	return m.textBody
}

// HTMLBody returns the HTML body, if any.
func (m *Message) HTMLBody() string {
	m.parse()
	return m.htmlBody
}

// AttachmentCount returns a best-effort count of MIME attachment parts.
func (m *Message) AttachmentCount() int {
	m.parse()
	return m.attachCnt
}

// AddHeader prepends a header to the raw message (and invalidates any
// cached parse), matching SMTP convention of adding trace headers
// (Received, Authentication-Results) at the top.
func (m *Message) AddHeader(name, value string) {
	if len(value) > 0 && value[len(value)-1] == '\n' {
		value = value[:len(value)-1]
	}
	value = strings.ReplaceAll(value, "\n", "\n\t")

	header := []byte(name + ": " + value + "\n")
	m.Raw = append(header, m.Raw...)
	m.once = sync.Once{}
}
