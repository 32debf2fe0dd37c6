// Package dicomweb implements the DICOMweb RESTful surface (spec.md §4.4,
// §4.5): a hand-rolled path-template router distinct from chi's radix trie
// (a chi mux can't express "first-match against an ordered table" the way a
// DICOMweb path space needs, since several templates share a method and
// differ only by trailing segment), plus the request dispatcher that turns
// a matched route into a storage.Provider call and a shaped HTTP response.
package dicomweb

import "strings"

// Kind names one DICOMweb operation a matched route resolves to.
type Kind int

const (
	KindSearchStudies Kind = iota
	KindSearchSeries
	KindSearchInstances
	KindSearchSeriesInStudy
	KindSearchInstancesInStudy
	KindSearchInstancesInSeries
	KindRetrieveStudy
	KindRetrieveSeries
	KindRetrieveInstance
	KindRetrieveStudyMetadata
	KindRetrieveSeriesMetadata
	KindRetrieveInstanceMetadata
	KindRetrieveFrames
	KindRetrieveRendered
	KindRetrieveThumbnail
	KindRetrieveBulkdata
	KindStoreInstances
	KindStoreInstancesInStudy
	KindDeleteStudy
	KindDeleteSeries
	KindDeleteInstance
	KindCapabilities
)

// route is one entry of the ordered match table: a method, a slash-split
// path template (a segment of "{name}" captures a named parameter), and the
// Kind it resolves to.
type route struct {
	method   string
	segments []string
	kind     Kind
}

// Router matches (method, path) pairs against an ordered table of route
// templates, first-match wins (spec.md §4.4). UIDs captured from the path
// are returned as opaque strings with no validation performed here.
type Router struct {
	prefix []string
	routes []route
}

// NewRouter builds the Router for the fixed DICOMweb route table, rooted at
// pathPrefix (default "/dicom-web" per spec.md §6).
func NewRouter(pathPrefix string) *Router {
	return &Router{
		prefix: splitPath(pathPrefix),
		routes: []route{
			{"GET", splitPath("/studies"), KindSearchStudies},
			{"GET", splitPath("/series"), KindSearchSeries},
			{"GET", splitPath("/instances"), KindSearchInstances},
			{"GET", splitPath("/studies/{studyUID}/series"), KindSearchSeriesInStudy},
			{"GET", splitPath("/studies/{studyUID}/instances"), KindSearchInstancesInStudy},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}/instances"), KindSearchInstancesInSeries},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/frames/{frameList}"), KindRetrieveFrames},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/rendered"), KindRetrieveRendered},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/thumbnail"), KindRetrieveThumbnail},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/bulkdata/{bulkdataPath}"), KindRetrieveBulkdata},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/metadata"), KindRetrieveInstanceMetadata},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}/metadata"), KindRetrieveSeriesMetadata},
			{"GET", splitPath("/studies/{studyUID}/metadata"), KindRetrieveStudyMetadata},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}"), KindRetrieveInstance},
			{"GET", splitPath("/studies/{studyUID}/series/{seriesUID}"), KindRetrieveSeries},
			{"GET", splitPath("/studies/{studyUID}"), KindRetrieveStudy},
			{"GET", splitPath("/capabilities"), KindCapabilities},
			{"POST", splitPath("/studies/{studyUID}"), KindStoreInstancesInStudy},
			{"POST", splitPath("/studies"), KindStoreInstances},
			{"DELETE", splitPath("/studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}"), KindDeleteInstance},
			{"DELETE", splitPath("/studies/{studyUID}/series/{seriesUID}"), KindDeleteSeries},
			{"DELETE", splitPath("/studies/{studyUID}"), KindDeleteStudy},
		},
	}
}

// Match resolves a matched route's Kind and its named path parameters.
// OPTIONS is not represented in the table (every path accepts it for CORS
// preflight, handled upstream of Match).
func (rt *Router) Match(method, path string) (Kind, map[string]string, bool) {
	segments := splitPath(path)
	segments, ok := stripPrefix(segments, rt.prefix)
	if !ok {
		return 0, nil, false
	}

	for _, r := range rt.routes {
		if r.method != method {
			continue
		}
		params, ok := matchSegments(r.segments, segments)
		if !ok {
			continue
		}
		return r.kind, params, true
	}
	return 0, nil, false
}

// Handles reports whether any route template (any method) matches path.
// The Dispatcher's OPTIONS handling does not consult it.
func (rt *Router) Handles(path string) bool {
	segments := splitPath(path)
	segments, ok := stripPrefix(segments, rt.prefix)
	if !ok {
		return false
	}
	for _, r := range rt.routes {
		if _, ok := matchSegments(r.segments, segments); ok {
			return true
		}
	}
	return false
}

func matchSegments(template, actual []string) (map[string]string, bool) {
	if len(template) != len(actual) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range template {
		if isParam(seg) {
			if params == nil {
				params = make(map[string]string, len(template))
			}
			params[paramName(seg)] = actual[i]
			continue
		}
		if seg != actual[i] {
			return nil, false
		}
	}
	return params, true
}

func isParam(segment string) bool {
	return len(segment) >= 2 && segment[0] == '{' && segment[len(segment)-1] == '}'
}

func paramName(segment string) string {
	return segment[1 : len(segment)-1]
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func stripPrefix(segments, prefix []string) ([]string, bool) {
	if len(prefix) == 0 {
		return segments, true
	}
	if len(segments) < len(prefix) {
		return nil, false
	}
	for i, p := range prefix {
		if segments[i] != p {
			return nil, false
		}
	}
	return segments[len(prefix):], true
}
