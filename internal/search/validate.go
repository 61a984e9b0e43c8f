// Package search implements the narrow query-DSL subset the proxy answers
// locally: validation of _search requests against an allow-listed grammar
// and synthesis of backend-shaped responses over a fixed corpus.
package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParsedSearchRequest is the intent extracted from a recognized _search
// request. An empty MultiMatch means "match all".
type ParsedSearchRequest struct {
	MultiMatch string
}

// allowedOptions are URL query options that are accepted and ignored; they
// do not change the contents of the canned result.
var allowedOptions = map[string]bool{
	"ignore_unavailable": true,
	"track_total_hits":   true,
	"timeout":            true,
	"preference":         true,
}

// Parse validates the URL query string and JSON body of a _search request
// against the supported grammar. On success it returns the parsed intent;
// on failure the error names the offending option, key or value. The error
// is recorded in the failure log and triggers fallback forwarding; it is
// never sent to the client.
func Parse(rawQuery string, body []byte) (ParsedSearchRequest, error) {
	var parsed ParsedSearchRequest

	if err := parseOptions(rawQuery); err != nil {
		return parsed, err
	}
	if err := parseBody(body, &parsed); err != nil {
		return parsed, err
	}
	return parsed, nil
}

// parseOptions checks every name in the query string against the allowlist.
// Option values are irrelevant; only unknown names reject.
func parseOptions(rawQuery string) error {
	for _, option := range strings.Split(rawQuery, "&") {
		if option == "" {
			continue
		}
		name, _, _ := strings.Cut(option, "=")
		if !allowedOptions[name] {
			return fmt.Errorf("unsupported URL option %s", name)
		}
	}
	return nil
}

func parseBody(body []byte, parsed *ParsedSearchRequest) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		if !json.Valid(body) {
			return errors.New("error parsing JSON body of search request")
		}
		return fmt.Errorf("expected JSON object in search body but got %s", body)
	}
	if m == nil {
		return fmt.Errorf("expected JSON object in search body but got %s", body)
	}

	for key, value := range m {
		switch key {
		case "_source":
			// Only the no-op form {"excludes": []} is supported.
			var src map[string]json.RawMessage
			if err := json.Unmarshal(value, &src); err != nil || len(src) != 1 || !isEmptyArray(src["excludes"]) {
				return fmt.Errorf("unimplemented _source value: %s", value)
			}
		case "docvalue_fields":
			if !isEmptyArray(value) {
				return fmt.Errorf("unimplemented docvalue_fields value: %s", value)
			}
		case "highlight":
			// Ignored; highlighting does not affect the result contents.
		case "query":
			if err := parseQuery(value, parsed); err != nil {
				return err
			}
		case "script_fields":
			if !isEmptyObject(value) {
				return fmt.Errorf("unimplemented script_fields value: %s", value)
			}
		case "size", "sort", "version":
			// Ignored; everything is always returned, in corpus order,
			// with versions.
		case "stored_fields":
			var fields []string
			if err := json.Unmarshal(value, &fields); err != nil || len(fields) != 1 || fields[0] != "*" {
				return fmt.Errorf("unimplemented stored_fields value: %s", value)
			}
		default:
			return fmt.Errorf("unimplemented search parameter: %s", key)
		}
	}
	return nil
}

// parseQuery validates the query clause. The only supported shape is a
// bool query whose must/must_not/should arrays are empty and whose filter
// array holds exactly one match_all or multi_match object.
func parseQuery(value json.RawMessage, parsed *ParsedSearchRequest) error {
	var query map[string]json.RawMessage
	if err := json.Unmarshal(value, &query); err != nil {
		return fmt.Errorf("unimplemented query value - expected JSON object: %s", value)
	}
	if len(query) != 1 {
		return fmt.Errorf("unimplemented query value - many query keys: %s", value)
	}

	var boolQuery map[string]json.RawMessage
	if err := json.Unmarshal(query["bool"], &boolQuery); err != nil || query["bool"] == nil {
		return fmt.Errorf("unimplemented query value: %s", value)
	}
	if len(boolQuery) != 4 {
		return fmt.Errorf("unimplemented query value - unexpected bool keys: %s", value)
	}

	var filter []json.RawMessage
	if err := json.Unmarshal(boolQuery["filter"], &filter); err != nil || boolQuery["filter"] == nil {
		return fmt.Errorf("unimplemented query value - expected 'filter': %s", value)
	}
	if len(filter) != 1 {
		return fmt.Errorf("unimplemented query value - expected one element 'filter': %s", value)
	}

	var filterObj map[string]json.RawMessage
	if err := json.Unmarshal(filter[0], &filterObj); err != nil {
		return fmt.Errorf("unimplemented query value - expected first element of 'filter' to be JSON object: %s", value)
	}
	if err := parseFilter(value, filterObj, parsed); err != nil {
		return err
	}

	for _, clause := range []string{"must", "must_not", "should"} {
		var arr []json.RawMessage
		if err := json.Unmarshal(boolQuery[clause], &arr); err != nil || boolQuery[clause] == nil {
			return fmt.Errorf("unimplemented query value - expected '%s': %s", clause, value)
		}
		if len(arr) != 0 {
			return fmt.Errorf("unimplemented query value - expected empty '%s': %s", clause, value)
		}
	}
	return nil
}

// parseFilter validates the single filter element, a match_all or a
// multi_match. The enclosing query value is passed through so rejection
// reasons show the full clause.
func parseFilter(value json.RawMessage, filter map[string]json.RawMessage, parsed *ParsedSearchRequest) error {
	switch {
	case len(filter) == 1 && filter["match_all"] != nil:
		if !isEmptyObject(filter["match_all"]) {
			return fmt.Errorf("unimplemented query value - non-empty match_all filter: %s", value)
		}
	case len(filter) == 1 && filter["multi_match"] != nil:
		var multiMatch map[string]json.RawMessage
		if err := json.Unmarshal(filter["multi_match"], &multiMatch); err != nil || multiMatch == nil {
			return fmt.Errorf("unimplemented query value - unexpected multi_match filter: %s", value)
		}
		for filterKey, filterValue := range multiMatch {
			switch filterKey {
			case "lenient":
				// Ignored.
			case "type":
				var typ string
				if err := json.Unmarshal(filterValue, &typ); err != nil || typ != "best_fields" {
					return fmt.Errorf("unimplemented multi_match type value: %s", filterValue)
				}
			case "query":
				var q string
				if err := json.Unmarshal(filterValue, &q); err != nil {
					return fmt.Errorf("unimplemented multi_match query value: %s", filterValue)
				}
				parsed.MultiMatch = q
			default:
				return fmt.Errorf("unimplemented multi_match parameter: %s", filterKey)
			}
		}
	default:
		return fmt.Errorf("unimplemented query value - unexpected filter: %s", value)
	}
	return nil
}

// isEmptyArray reports whether value is exactly []. A JSON null is not an
// empty array: Unmarshal leaves the slice nil for null but allocates an
// empty one for [].
func isEmptyArray(value json.RawMessage) bool {
	var arr []json.RawMessage
	return value != nil && json.Unmarshal(value, &arr) == nil && arr != nil && len(arr) == 0
}

// isEmptyObject reports whether value is exactly {}, by the same
// null-vs-empty distinction as isEmptyArray.
func isEmptyObject(value json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return value != nil && json.Unmarshal(value, &obj) == nil && obj != nil && len(obj) == 0
}
