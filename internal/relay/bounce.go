package relay

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"net/mail"
	"text/template"
	"time"
)

// maxOrigMsgLen caps how much of the original message is quoted back in a
// bounce: the recipient of the bounce may have a smaller size limit than
// we accepted the original message under.
const maxOrigMsgLen = 256 * 1024

// Bounce builds a delivery status notification (DSN) for m, addressed
// back to m.From, listing every recipient that ended up Rejected or
// still Pending when the message reached a terminal status.
//
// References: RFC 3464 (DSN), RFC 6533 (internationalized DSN).
func Bounce(ourDomain string, m *RelayMessage) ([]byte, error) {
	m.Lock()
	defer m.Unlock()

	info := dsnInfo{
		OurDomain:   ourDomain,
		Destination: m.From,
		Date:        time.Now().Format(time.RFC1123Z),
		Boundary:    mustID(),
	}
	info.MessageID = "bounce-" + mustID() + "@" + ourDomain

	for _, r := range m.Recipients {
		switch r.Status {
		case RecipientRejected:
			info.FailedRecipients = append(info.FailedRecipients, r)
			info.FailedTo = append(info.FailedTo, r.Address)
		case RecipientPending:
			info.PendingRecipients = append(info.PendingRecipients, r)
			info.FailedTo = append(info.FailedTo, r.Address)
		}
	}

	if len(m.RawMessage) > maxOrigMsgLen {
		info.OriginalMessage = string(m.RawMessage[:maxOrigMsgLen])
	} else {
		info.OriginalMessage = string(m.RawMessage)
	}
	info.OriginalMessageID = originalMessageID(m.RawMessage)

	buf := &bytes.Buffer{}
	if err := dsnTemplate.Execute(buf, info); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func originalMessageID(data []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return msg.Header.Get("Message-ID")
}

func mustID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

type dsnInfo struct {
	OurDomain         string
	Destination       string
	MessageID         string
	Date              string
	FailedTo          []string
	FailedRecipients  []*Recipient
	PendingRecipients []*Recipient
	OriginalMessage   string
	OriginalMessageID string
	Boundary          string
}

var dsnTemplate = template.Must(template.New("dsn").Parse(
	`From: Mail Delivery System <postmaster@{{.OurDomain}}>
To: <{{.Destination}}>
Subject: Mail delivery failed: returning message to sender
Message-ID: <{{.MessageID}}>
Date: {{.Date}}
In-Reply-To: {{.OriginalMessageID}}
References: {{.OriginalMessageID}}
Auto-Submitted: auto-replied
MIME-Version: 1.0
Content-Type: multipart/report; report-type=delivery-status;
    boundary="{{.Boundary}}"


--{{.Boundary}}
Content-Type: text/plain; charset="utf-8"
Content-Disposition: inline
Content-Description: Notification
Content-Transfer-Encoding: 8bit

Delivery of your message to the following recipient(s) failed:

{{range .FailedTo}}  - {{.}}
{{end}}
Technical details:
{{- range .FailedRecipients}}
- "{{.Address}}" failed permanently with error:
    {{.LastError}}
{{- end}}
{{- range .PendingRecipients}}
- "{{.Address}}" failed repeatedly and timed out, last error:
    {{.LastError}}
{{- end}}


--{{.Boundary}}
Content-Type: message/global-delivery-status
Content-Description: Delivery Report
Content-Transfer-Encoding: 8bit

Reporting-MTA: dns; {{.OurDomain}}

{{range .FailedRecipients -}}
Final-Recipient: utf-8; {{.Address}}
Action: failed
Status: 5.0.0
Diagnostic-Code: smtp; {{.LastError}}
{{end}}
{{range .PendingRecipients -}}
Final-Recipient: utf-8; {{.Address}}
Action: failed
Status: 4.0.0
Diagnostic-Code: smtp; {{.LastError}}
{{end}}

--{{.Boundary}}
Content-Type: message/rfc822
Content-Description: Undelivered Message
Content-Transfer-Encoding: 8bit

{{.OriginalMessage}}

--{{.Boundary}}--
`))
