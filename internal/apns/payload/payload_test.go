package payload

import (
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"unicode/utf8"

	apperrors "apns-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const umbrella = "\U0001F302" // four UTF-8 bytes

// ==========================
// Test Helper Functions
// ==========================

// escape returns the JSON string body of s without the quotes.
func escape(t *testing.T, s string) string {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b[1 : len(b)-1])
}

var truncateCases = []struct {
	name     string
	content  string
	expected []string // expected prefix for budget 0, 1, 2, ...
}{
	{"no special chars", "big ", []string{"", "b", "bi", "big", "big ", "big ", "big "}},
	{"two byte tail", "fæ", []string{"", "f", "f", "fæ", "fæ"}},
	{"two byte head", "øgle", []string{"", "", "ø", "øg", "øgl"}},
	{"two byte middle", "nøgler", []string{"", "n", "n", "nø", "nøg"}},
	{"four byte head", umbrella + "B", []string{"", "", "", "", umbrella, umbrella + "B"}},
	{"four byte middle", "A" + umbrella + "B", []string{"", "A", "A", "A", "A", "A" + umbrella, "A" + umbrella + "B"}},
	{"escaped newline", "A\n6789", []string{"", "A", "A", "A\n", "A\n6"}},
}

// ==========================
// Truncation Primitive Tests
// ==========================

func TestTruncateText_Tables(t *testing.T) {
	for _, tc := range truncateCases {
		t.Run(tc.name, func(t *testing.T) {
			for budget, want := range tc.expected {
				got, cost := TruncateText(tc.content, budget)
				assert.Equal(t, want, got, "budget %d", budget)
				assert.Equal(t, len(escape(t, got)), cost, "budget %d", budget)
				assert.LessOrEqual(t, cost, budget)
			}
		})
	}
}

func TestTruncateText_FitsUnchanged(t *testing.T) {
	got, cost := TruncateText("", 100)
	assert.Equal(t, "", got)
	assert.Equal(t, 0, cost)

	got, cost = TruncateText("big ", 100)
	assert.Equal(t, "big ", got)
	assert.Equal(t, 4, cost)
}

func TestTruncateText_NegativeBudget(t *testing.T) {
	got, cost := TruncateText("anything", -5)
	assert.Empty(t, got)
	assert.Zero(t, cost)
}

func TestTruncateText_Monotonic(t *testing.T) {
	content := "Ça \"va\"?\t" + umbrella + " naïve\\ 日本語 " + string(rune(0x2028)) + "\x01end"
	full := EscapedLen(content)

	prev := 0
	for budget := 0; budget <= full+10; budget++ {
		got, cost := TruncateText(content, budget)
		assert.GreaterOrEqual(t, len(got), prev, "budget %d", budget)
		assert.True(t, strings.HasPrefix(content, got))
		assert.True(t, utf8.ValidString(got), "budget %d split a code point", budget)
		assert.Equal(t, len(escape(t, got)), cost, "budget %d", budget)
		if budget >= full {
			assert.Equal(t, content, got)
		}
		prev = len(got)
	}
}

func TestEscapedLen_MatchesEncoder(t *testing.T) {
	inputs := []string{
		"plain",
		"quote\" backslash\\ slash/",
		"\b\f\n\r\t",
		"\x00\x1f\x7f",
		"<html>&amp;",
		"line" + string(rune(0x2028)) + "para" + string(rune(0x2029)),
		"bad\xffbyte",
		"ø" + umbrella,
	}

	for _, in := range inputs {
		p, err := New(Options{Alert: TextAlert(in), MaxLength: 4096})
		require.NoError(t, err)
		overhead := len(`{"aps":{"alert":""}}`)
		assert.Equal(t, p.Len()-overhead, EscapedLen(in), "input %q", in)
	}
}

// ==========================
// Serialization Tests
// ==========================

func TestAlert_Dict(t *testing.T) {
	d := (&Alert{Body: "foo"}).Dict()
	assert.Equal(t, "foo", d["body"])
	assert.NotContains(t, d, "action-loc-key")
	assert.NotContains(t, d, "loc-key")
	assert.NotContains(t, d, "loc-args")
	assert.NotContains(t, d, "launch-image")

	d = (&Alert{
		Body:         "foo",
		ActionLocKey: "bar",
		LocKey:       "wibble",
		LocArgs:      []string{"king", "kong"},
		LaunchImage:  "wobble",
	}).Dict()
	assert.Equal(t, "foo", d["body"])
	assert.Equal(t, "bar", d["action-loc-key"])
	assert.Equal(t, "wibble", d["loc-key"])
	assert.Equal(t, []string{"king", "kong"}, d["loc-args"])
	assert.Equal(t, "wobble", d["launch-image"])
}

func TestNew_OnlySetFieldsEmitted(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		present []string
		absent  []string
	}{
		{"alert only", Options{Alert: &Alert{Body: "foo"}}, []string{"alert"}, []string{"sound", "badge"}},
		{"sound only", Options{Sound: "foo"}, []string{"sound"}, []string{"alert", "badge"}},
		{"badge only", Options{Badge: Badge(1)}, []string{"badge"}, []string{"alert", "sound"}},
		{"badge removal", Options{Badge: Badge(0)}, []string{"badge"}, []string{"alert", "sound"}},
		{"nothing set", Options{}, nil, []string{"alert", "sound", "badge"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.opts)
			require.NoError(t, err)

			aps, ok := p.Dict()["aps"].(map[string]interface{})
			require.True(t, ok)
			for _, k := range tt.present {
				assert.Contains(t, aps, k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, aps, k)
			}
		})
	}
}

func TestNew_BadgeZeroIsNotAbsent(t *testing.T) {
	cleared, err := New(Options{Badge: Badge(0)})
	require.NoError(t, err)
	unset, err := New(Options{})
	require.NoError(t, err)

	assert.Equal(t, `{"aps":{"badge":0}}`, cleared.String())
	assert.Equal(t, `{"aps":{}}`, unset.String())
}

func TestNew_CanonicalCompactJSON(t *testing.T) {
	p, err := New(Options{
		Alert:  TextAlert("foobar"),
		Badge:  Badge(4),
		Sound:  "default",
		Custom: map[string]interface{}{"foo": "bar", "acme": []int{1, 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"acme":[1,2],"aps":{"alert":"foobar","badge":4,"sound":"default"},"foo":"bar"}`, p.String())
	assert.Equal(t, map[string]interface{}{
		"foo":  "bar",
		"acme": []interface{}{float64(1), float64(2)},
		"aps":  map[string]interface{}{"alert": "foobar", "badge": float64(4), "sound": "default"},
	}, p.Dict())
	assert.False(t, p.Truncated())
	assert.Equal(t, DefaultMaxLength, p.MaxLength())
}

func TestNew_NonASCIIIsNotEscaped(t *testing.T) {
	p, err := New(Options{Alert: TextAlert("<ø>&")})
	require.NoError(t, err)
	assert.Equal(t, `{"aps":{"alert":"<ø>&"}}`, p.String())
}

func TestNew_ReservedCustomKey(t *testing.T) {
	_, err := New(Options{Custom: map[string]interface{}{"aps": 1}})
	assert.True(t, stderrors.Is(err, apperrors.ErrInvalidPayload))
}

func TestNew_UnserializableCustomValue(t *testing.T) {
	_, err := New(Options{Custom: map[string]interface{}{"ch": make(chan int)}})
	assert.True(t, stderrors.Is(err, apperrors.ErrInvalidPayload))
}

func TestNew_CustomMapIsCopied(t *testing.T) {
	custom := map[string]interface{}{"k": "v"}
	p, err := New(Options{Custom: custom})
	require.NoError(t, err)

	custom["k"] = "changed"
	assert.Equal(t, "v", p.Dict()["k"])
}

// ==========================
// Size Guard Tests
// ==========================

func TestNew_PayloadTooLarge(t *testing.T) {
	probe, err := New(Options{Alert: TextAlert(".")})
	require.NoError(t, err)
	overhead := probe.Len() - 1
	maxRaw := DefaultMaxLength - overhead

	_, err = New(Options{Alert: TextAlert(strings.Repeat(".", maxRaw))})
	assert.NoError(t, err)

	_, err = New(Options{Alert: TextAlert(strings.Repeat(".", maxRaw+1))})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, apperrors.ErrPayloadTooLarge))

	var stdErr *apperrors.StandardError
	require.True(t, stderrors.As(err, &stdErr))
	assert.Equal(t, DefaultMaxLength+1, stdErr.Metadata["length"])
	assert.Equal(t, DefaultMaxLength, stdErr.Metadata["limit"])

	_, err = New(Options{Alert: TextAlert(strings.Repeat("Ā", maxRaw/2))})
	assert.NoError(t, err)

	_, err = New(Options{Alert: TextAlert(strings.Repeat("Ā", maxRaw/2+1))})
	assert.True(t, stderrors.Is(err, apperrors.ErrPayloadTooLarge))
}

func TestNew_TruncateWithoutAlertFails(t *testing.T) {
	_, err := New(Options{
		Custom:    map[string]interface{}{"blob": strings.Repeat("x", 300)},
		Truncate:  true,
		MaxLength: 256,
	})
	assert.True(t, stderrors.Is(err, apperrors.ErrPayloadTooLarge))
}

func TestNew_InvalidMaxLength(t *testing.T) {
	_, err := New(Options{MaxLength: -1})
	assert.True(t, stderrors.Is(err, apperrors.ErrInvalidPayload))
}

// ==========================
// Adaptive Truncation Tests
// ==========================

func TestNew_TruncateTables(t *testing.T) {
	build := func(content string, maxLength int) (*Payload, error) {
		return New(Options{
			Alert:     TextAlert(content),
			Custom:    map[string]interface{}{"hello": "world"},
			MaxLength: maxLength,
			Truncate:  true,
		})
	}

	marker, err := build("!", 1000)
	require.NoError(t, err)
	context := strings.Split(marker.String(), "!")
	require.Len(t, context, 2)
	contextLen := len(context[0]) + len(context[1])

	for _, tc := range truncateCases {
		t.Run(tc.name, func(t *testing.T) {
			for budget, want := range tc.expected {
				p, err := build(tc.content, budget+contextLen)
				if want == "" {
					assert.True(t, stderrors.Is(err, apperrors.ErrPayloadTooLarge), "budget %d", budget)
					assert.Nil(t, p)
					continue
				}
				require.NoError(t, err, "budget %d", budget)
				assert.Equal(t, context[0]+escape(t, want)+context[1], p.String(), "budget %d", budget)
				assert.LessOrEqual(t, p.Len(), budget+contextLen)
				assert.Equal(t, want, p.Alert().Body)
			}
		})
	}
}

func TestNew_ScaffoldingConsumesWholeBudget(t *testing.T) {
	empty, err := New(Options{Alert: TextAlert(""), Sound: "default"})
	require.NoError(t, err)

	_, err = New(Options{
		Alert:     TextAlert("hello"),
		Sound:     "default",
		MaxLength: empty.Len(),
		Truncate:  true,
	})
	assert.True(t, stderrors.Is(err, apperrors.ErrPayloadTooLarge))
}

func TestNew_TruncateIsIdempotentWhenFitting(t *testing.T) {
	opts := Options{Alert: TextAlert("short enough"), Badge: Badge(3)}
	plain, err := New(opts)
	require.NoError(t, err)

	opts.Truncate = true
	opts.MaxLength = plain.Len()
	truncating, err := New(opts)
	require.NoError(t, err)

	assert.Equal(t, plain.JSON(), truncating.JSON())
	assert.False(t, truncating.Truncated())
}

func TestNew_TruncateHitsBudgetExactlyWhenPossible(t *testing.T) {
	text := strings.Repeat("a", 400)
	for _, limit := range []int{40, 64, 128, 255, 256} {
		p, err := New(Options{Alert: TextAlert(text), Truncate: true, MaxLength: limit})
		require.NoError(t, err)
		assert.Equal(t, limit, p.Len())
		assert.True(t, p.Truncated())
	}
}

func TestNew_TruncateAlertDictionaryBody(t *testing.T) {
	alert := &Alert{
		Body:        strings.Repeat("ø", 200),
		LocArgs:     []string{"x"},
		LaunchImage: "splash.png",
	}

	p, err := New(Options{Alert: alert, Truncate: true})
	require.NoError(t, err)

	assert.True(t, p.Truncated())
	assert.LessOrEqual(t, p.Len(), DefaultMaxLength)
	assert.GreaterOrEqual(t, p.Len(), DefaultMaxLength-1) // two-byte runes may leave one byte
	assert.True(t, utf8.ValidString(p.Alert().Body))
	assert.False(t, p.Alert().IsText())

	aps := p.Dict()["aps"].(map[string]interface{})
	dict := aps["alert"].(map[string]interface{})
	assert.Equal(t, "splash.png", dict["launch-image"])
	assert.Equal(t, p.Alert().Body, dict["body"])

	assert.Len(t, alert.Body, 400, "caller's alert must not be modified")
}

func TestNew_TruncateNeverSplitsEscapes(t *testing.T) {
	text := strings.Repeat(`"\`, 200)
	for limit := 20; limit < 60; limit++ {
		p, err := New(Options{Alert: TextAlert(text), Truncate: true, MaxLength: limit})
		if err != nil {
			assert.True(t, stderrors.Is(err, apperrors.ErrPayloadTooLarge))
			continue
		}
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(p.JSON(), &decoded), "limit %d", limit)
		assert.True(t, strings.HasPrefix(text, p.Alert().Body))
	}
}
