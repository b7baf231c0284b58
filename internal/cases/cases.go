// Package cases defines the catalogue of edge-case RFC 5322 / MIME messages
// submitted to a relay under test. Every builder is pure: the same sender and
// recipient always produce the same bytes, with CRLF line endings throughout.
package cases

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildFunc synthesizes one complete message for the given envelope addresses.
type BuildFunc func(sender, recipient string) []byte

// TestCase is one named probe in the catalogue.
type TestCase struct {
	// Number is the 1-based position in the catalogue, used for display and selection.
	Number int

	// Label identifies the case in reports.
	Label string

	// Build produces the message bytes submitted as the DATA payload.
	Build BuildFunc
}

// Catalogue returns the ten test cases in their fixed order.
// A fresh slice is returned on every call.
func Catalogue() []TestCase {
	return []TestCase{
		{Number: 1, Label: "Test 1 - Plain text", Build: PlainText},
		{Number: 2, Label: "Test 2 - HTML", Build: HTML},
		{Number: 3, Label: "Test 3 - UTF-8 encoded subject + base64 body", Build: EncodedSubject},
		{Number: 4, Label: "Test 4 - Multipart alternative (text+HTML)", Build: MultipartAlternative},
		{Number: 5, Label: "Test 5 - Attachment", Build: Attachment},
		{Number: 6, Label: "Test 6 - Quoted-printable", Build: QuotedPrintable},
		{Number: 7, Label: "Test 7 - CC header", Build: CcHeader},
		{Number: 8, Label: "Test 8 - Missing Content-Type", Build: MissingContentType},
		{Number: 9, Label: "Test 9 - Long subject", Build: LongSubject},
		{Number: 10, Label: "Test 10 - Empty body", Build: EmptyBody},
	}
}

// Lookup finds a case by its number ("5") or by its exact label.
func Lookup(key string) (TestCase, bool) {
	key = strings.TrimSpace(key)
	n, err := strconv.Atoi(key)
	for _, tc := range Catalogue() {
		if err == nil && tc.Number == n {
			return tc, true
		}
		if tc.Label == key {
			return tc, true
		}
	}
	return TestCase{}, false
}

// Select returns the cases named by keys, in catalogue order and without
// duplicates. An empty key list selects the whole catalogue.
func Select(keys []string) ([]TestCase, error) {
	if len(keys) == 0 {
		return Catalogue(), nil
	}

	wanted := make(map[int]bool, len(keys))
	for _, key := range keys {
		tc, ok := Lookup(key)
		if !ok {
			return nil, fmt.Errorf("unknown test case %q", key)
		}
		wanted[tc.Number] = true
	}

	selected := make([]TestCase, 0, len(wanted))
	for _, tc := range Catalogue() {
		if wanted[tc.Number] {
			selected = append(selected, tc)
		}
	}
	return selected, nil
}
