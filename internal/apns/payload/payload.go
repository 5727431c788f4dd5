// Package payload builds the JSON document carried by an APNs notification
// and enforces its byte budget, optionally truncating the alert text to fit.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "apns-workers/internal/common/errors"
)

const (
	// DefaultMaxLength is the gateway's limit for the legacy binary interface.
	DefaultMaxLength = 256

	apsKey = "aps"
)

// Alert is either plain text (see TextAlert) or an alert dictionary. A
// struct literal is always a dictionary, even when only Body is set.
type Alert struct {
	Body         string
	ActionLocKey string
	LocKey       string
	LocArgs      []string
	LaunchImage  string

	plain bool
}

// TextAlert returns an alert serialized as a bare JSON string.
func TextAlert(text string) *Alert {
	return &Alert{Body: text, plain: true}
}

// IsText reports whether the alert serializes as a bare string.
func (a *Alert) IsText() bool {
	return a.plain
}

// Dict returns the alert dictionary with only the fields that are set.
func (a *Alert) Dict() map[string]interface{} {
	d := make(map[string]interface{}, 5)
	if a.Body != "" {
		d["body"] = a.Body
	}
	if a.ActionLocKey != "" {
		d["action-loc-key"] = a.ActionLocKey
	}
	if a.LocKey != "" {
		d["loc-key"] = a.LocKey
	}
	if a.LocArgs != nil {
		d["loc-args"] = append([]string(nil), a.LocArgs...)
	}
	if a.LaunchImage != "" {
		d["launch-image"] = a.LaunchImage
	}
	return d
}

func (a *Alert) value() interface{} {
	if a.plain {
		return a.Body
	}
	return a.Dict()
}

func (a *Alert) withBody(body string) *Alert {
	c := *a
	c.Body = body
	return &c
}

// Options configures a Payload. Badge is a pointer so that an explicit zero
// ("clear the badge") stays distinct from no badge at all.
type Options struct {
	Alert     *Alert
	Badge     *int
	Sound     string
	Custom    map[string]interface{}
	MaxLength int
	Truncate  bool
}

// Badge returns a pointer suitable for Options.Badge.
func Badge(n int) *int {
	return &n
}

// Payload is an immutable, already serialized and size-checked notification
// payload.
type Payload struct {
	alert     *Alert
	badge     *int
	sound     string
	custom    map[string]interface{}
	maxLength int
	truncated bool
	data      []byte
}

// New serializes the payload and checks it against MaxLength. With Truncate
// set, an oversized payload has its alert text shortened to the longest
// code-point prefix that fits; otherwise a PAYLOAD_TOO_LARGE error is
// returned.
func New(opts Options) (*Payload, error) {
	maxLength := opts.MaxLength
	if maxLength == 0 {
		maxLength = DefaultMaxLength
	}
	if maxLength < 0 {
		return nil, apperrors.NewInvalidPayloadError(fmt.Sprintf("max length must be positive, got %d", maxLength))
	}
	if _, ok := opts.Custom[apsKey]; ok {
		return nil, apperrors.NewInvalidPayloadError("custom key \"aps\" is reserved")
	}

	p := &Payload{
		alert:     opts.Alert,
		sound:     opts.Sound,
		maxLength: maxLength,
	}
	if opts.Badge != nil {
		badge := *opts.Badge
		p.badge = &badge
	}
	if len(opts.Custom) > 0 {
		p.custom = make(map[string]interface{}, len(opts.Custom))
		for k, v := range opts.Custom {
			p.custom[k] = v
		}
	}

	data, err := p.encode(p.alert)
	if err != nil {
		return nil, err
	}
	if len(data) <= maxLength {
		p.data = data
		return p, nil
	}
	if !opts.Truncate || p.alert == nil {
		return nil, apperrors.NewPayloadTooLargeError(len(data), maxLength)
	}
	if err := p.truncate(len(data)); err != nil {
		return nil, err
	}
	return p, nil
}

// truncate shortens the alert text so the whole document fits maxLength.
func (p *Payload) truncate(fullLength int) error {
	// A one-byte ASCII marker keeps optional dictionary keys such as "body"
	// present while measuring everything around the text.
	probe, err := p.encode(p.alert.withBody("x"))
	if err != nil {
		return err
	}
	contextCost := len(probe) - 1

	prefix, cost := TruncateText(p.alert.Body, p.maxLength-contextCost)
	if prefix == "" {
		return apperrors.NewPayloadTooLargeError(fullLength, p.maxLength)
	}

	alert := p.alert.withBody(prefix)
	data, err := p.encode(alert)
	if err != nil {
		return err
	}
	if len(data) != contextCost+cost || len(data) > p.maxLength {
		return apperrors.NewPayloadTooLargeError(len(data), p.maxLength)
	}

	p.alert = alert
	p.data = data
	p.truncated = true
	return nil
}

func (p *Payload) document(alert *Alert) map[string]interface{} {
	aps := make(map[string]interface{}, 3)
	if alert != nil {
		aps["alert"] = alert.value()
	}
	if p.badge != nil {
		aps["badge"] = *p.badge
	}
	if p.sound != "" {
		aps["sound"] = p.sound
	}

	doc := make(map[string]interface{}, len(p.custom)+1)
	for k, v := range p.custom {
		doc[k] = v
	}
	doc[apsKey] = aps
	return doc
}

// encode produces compact JSON with sorted keys and raw (unescaped) non-ASCII
// text, which is what escapedLen measures.
func (p *Payload) encode(alert *Alert) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p.document(alert)); err != nil {
		return nil, apperrors.NewInvalidPayloadError(err.Error())
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// JSON returns a copy of the serialized payload.
func (p *Payload) JSON() []byte {
	return append([]byte(nil), p.data...)
}

// Len returns the serialized length in bytes.
func (p *Payload) Len() int {
	return len(p.data)
}

// MaxLength returns the byte budget the payload was checked against.
func (p *Payload) MaxLength() int {
	return p.maxLength
}

// Truncated reports whether the alert text was shortened to fit.
func (p *Payload) Truncated() bool {
	return p.truncated
}

// Alert returns the alert as serialized, after any truncation.
func (p *Payload) Alert() *Alert {
	if p.alert == nil {
		return nil
	}
	c := *p.alert
	return &c
}

// Dict returns the payload as a freshly decoded JSON object.
func (p *Payload) Dict() map[string]interface{} {
	var d map[string]interface{}
	_ = json.Unmarshal(p.data, &d)
	return d
}

func (p *Payload) String() string {
	return string(p.data)
}
