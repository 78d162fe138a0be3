package fetchmock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// bodyKind identifies the variant of a parsed or expected body.
type bodyKind int

const (
	bodyEmpty bodyKind = iota
	bodyText
	bodyJSON
	bodyForm
	bodyBytes
)

// parsedBody is the body of a received request, decoded per content type.
type parsedBody struct {
	kind bodyKind
	text string
	json any
	form url.Values
	raw  []byte
}

// parseRequestBody decodes raw request bytes according to the content-type
// header: text/* as text, JSON as a generic value, form payloads as values,
// anything else as raw bytes.
func parseRequestBody(header http.Header, raw []byte) (*parsedBody, error) {
	if len(raw) == 0 {
		return &parsedBody{kind: bodyEmpty}, nil
	}

	contentType := header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return &parsedBody{kind: bodyText, text: string(raw), raw: raw}, nil

	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, errors.Wrap(err, "failed to parse JSON request body")
		}
		return &parsedBody{kind: bodyJSON, json: value, raw: raw}, nil

	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse urlencoded request body")
		}
		return &parsedBody{kind: bodyForm, form: values, raw: raw}, nil

	case mediaType == "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart request body is missing a boundary")
		}
		values, err := parseMultipartForm(raw, boundary)
		if err != nil {
			return nil, err
		}
		return &parsedBody{kind: bodyForm, form: values, raw: raw}, nil

	default:
		return &parsedBody{kind: bodyBytes, raw: raw}, nil
	}
}

// parseMultipartForm reads every part of a multipart body into form values.
func parseMultipartForm(raw []byte, boundary string) (url.Values, error) {
	reader := multipart.NewReader(bytes.NewReader(raw), boundary)
	form, err := reader.ReadForm(int64(len(raw)) + 1024)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse multipart request body")
	}
	defer form.RemoveAll() //nolint:errcheck

	values := url.Values{}
	for name, fieldValues := range form.Value {
		for _, value := range fieldValues {
			values.Add(name, value)
		}
	}
	return values, nil
}

// expectedBody is a normalized body expectation from a request pattern.
type expectedBody struct {
	kind bodyKind
	text string
	json any
	form url.Values
	raw  []byte
}

// normalizeExpectedBody converts a pattern's declared body into its variant.
// Strings compare as exact text, byte slices byte-for-byte, url.Values as a
// form subset and any other value as a JSON structural subset.
func normalizeExpectedBody(body any) (*expectedBody, error) {
	switch value := body.(type) {
	case nil:
		return &expectedBody{kind: bodyEmpty}, nil
	case string:
		return &expectedBody{kind: bodyText, text: value}, nil
	case []byte:
		return &expectedBody{kind: bodyBytes, raw: value}, nil
	case url.Values:
		return &expectedBody{kind: bodyForm, form: value}, nil
	default:
		normalized, err := normalizeJSON(value)
		if err != nil {
			return nil, errors.Wrapf(err, "unsupported body declaration type %T", body)
		}
		return &expectedBody{kind: bodyJSON, json: normalized}, nil
	}
}

// matchBody compares the expectation against the actual parsed body and
// returns a mismatch description on failure.
func matchBody(expected *expectedBody, actual *parsedBody) (bool, string) {
	switch expected.kind {
	case bodyEmpty:
		if actual.kind != bodyEmpty {
			return false, "Expected an empty body."
		}
		return true, ""

	case bodyText:
		actualText := actual.text
		if actual.kind != bodyText {
			actualText = string(actual.raw)
		}
		if actualText != expected.text {
			return false, fmt.Sprintf("Expected body %q but received %q.", expected.text, actualText)
		}
		return true, ""

	case bodyBytes:
		if !bytes.Equal(expected.raw, actual.raw) {
			return false, fmt.Sprintf("Expected %d body bytes but received %d differing bytes.", len(expected.raw), len(actual.raw))
		}
		return true, ""

	case bodyForm:
		if actual.kind != bodyForm {
			return false, "Expected a form-data body."
		}
		for key, values := range expected.form {
			want := ""
			if len(values) > 0 {
				want = values[0]
			}
			if !actual.form.Has(key) {
				return false, fmt.Sprintf("Expected form field %s=%s but the field is missing.", key, want)
			}
			if actual.form.Get(key) != want {
				return false, fmt.Sprintf("Expected form field %s=%s but received %s=%s.", key, want, key, actual.form.Get(key))
			}
		}
		return true, ""

	case bodyJSON:
		if actual.kind != bodyJSON {
			return false, "Expected a JSON body."
		}
		if path, ok := jsonSubset(expected.json, actual.json, ""); !ok {
			return false, fmt.Sprintf("JSON body mismatch at %q.", path)
		}
		return true, ""
	}

	return false, "Unknown body expectation."
}

// normalizeJSON round-trips a value through encoding/json so comparisons see
// the same generic shapes regardless of the declared Go type.
func normalizeJSON(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// jsonSubset checks that every key in expected is present in actual with the
// same value, recursing through objects. Arrays and scalars compare by
// strict equality. Returns the first mismatching path.
func jsonSubset(expected, actual any, path string) (string, bool) {
	expectedMap, expectedIsMap := expected.(map[string]any)
	if !expectedIsMap {
		if !reflect.DeepEqual(expected, actual) {
			return orRoot(path), false
		}
		return "", true
	}

	actualMap, actualIsMap := actual.(map[string]any)
	if !actualIsMap {
		return orRoot(path), false
	}

	for key, expectedValue := range expectedMap {
		keyPath := key
		if path != "" {
			keyPath = path + "." + key
		}

		actualValue, present := actualMap[key]
		if !present {
			return keyPath, false
		}
		if mismatch, ok := jsonSubset(expectedValue, actualValue, keyPath); !ok {
			return mismatch, false
		}
	}
	return "", true
}

// orRoot substitutes a readable label for the empty root path.
func orRoot(path string) string {
	if path == "" {
		return "$"
	}
	return path
}
