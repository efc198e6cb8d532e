package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	ussdCommonNS   = "http://ussdgw.local/schema/common/v2_1"
	ussdSendNS     = "http://ussdgw.local/schema/ussd/send/v1_0/local"
)

var errNotSOAP = errors.New("body is not a SOAP envelope")

// soapElement is one child of a hand-built envelope section.
type soapElement struct {
	name  string
	value string
}

// buildSOAPEnvelope assembles a request envelope with the credential header
// and a single body operation. Values are XML-escaped.
func buildSOAPEnvelope(header []soapElement, operation string, body []soapElement) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString(`<soapenv:Envelope xmlns:soapenv="` + soapEnvelopeNS + `" xmlns:v2="` + ussdCommonNS + `" xmlns:loc="` + ussdSendNS + `">`)
	b.WriteString(`<soapenv:Header><v2:RequestSOAPHeader>`)
	writeSOAPElements(&b, "v2", header)
	b.WriteString(`</v2:RequestSOAPHeader></soapenv:Header>`)
	b.WriteString(`<soapenv:Body><loc:` + operation + `>`)
	writeSOAPElements(&b, "loc", body)
	b.WriteString(`</loc:` + operation + `></soapenv:Body></soapenv:Envelope>`)
	return b.Bytes()
}

func writeSOAPElements(b *bytes.Buffer, prefix string, elems []soapElement) {
	for _, e := range elems {
		b.WriteString("<" + prefix + ":" + e.name + ">")
		_ = xml.EscapeText(b, []byte(e.value))
		b.WriteString("</" + prefix + ":" + e.name + ">")
	}
}

// soapPassword derives the per-request credential:
// base64(sha256(spID + secret + timestamp)).
func soapPassword(spID, secret, timestamp string) string {
	sum := sha256.Sum256([]byte(spID + secret + timestamp))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// soapMessage is the flattened content of an envelope body: leaf element local
// names mapped to their trimmed text. Namespace prefixes vary between provider
// releases, so matching is by local name only.
type soapMessage struct {
	fields map[string]string
	fault  bool
}

func (m soapMessage) get(names ...string) string {
	for _, n := range names {
		if v, ok := m.fields[strings.ToLower(n)]; ok {
			return v
		}
	}
	return ""
}

func parseSOAP(body []byte) (soapMessage, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	msg := soapMessage{fields: make(map[string]string)}

	var (
		sawEnvelope, inBody bool
		sawBody             bool
		current             string
		text                strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return soapMessage{}, fmt.Errorf("parse soap: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "Envelope":
				sawEnvelope = true
			case t.Name.Local == "Body" && sawEnvelope:
				inBody, sawBody = true, true
			case t.Name.Local == "Fault" && inBody:
				msg.fault = true
			}
			current = strings.ToLower(t.Name.Local)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local == "Body" {
				inBody = false
			}
			if inBody && current == strings.ToLower(t.Name.Local) {
				msg.fields[current] = strings.TrimSpace(text.String())
			}
			current = ""
			text.Reset()
		}
	}

	if !sawEnvelope || !sawBody {
		return soapMessage{}, errNotSOAP
	}
	return msg, nil
}
