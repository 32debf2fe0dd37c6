package dicomweb

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicomweb-server/internal/dicomcodec"
	"github.com/otcheredev/dicomweb-server/internal/dicomjson"
	"github.com/otcheredev/dicomweb-server/internal/identity"
	"github.com/otcheredev/dicomweb-server/internal/middleware"
	"github.com/otcheredev/dicomweb-server/internal/multipart"
	"github.com/otcheredev/dicomweb-server/internal/storage"
)

// cacheableContentTypes is the allow-list a response's Content-Type must
// belong to for the Response Cache to consider it eligible (spec.md §4.7).
var cacheableContentTypes = map[string]bool{
	"application/dicom+json":  true,
	"application/json":        true,
	"multipart/related":       true,
	"application/dicom":       true,
	"application/octet-stream": true,
}

// ResponseCache is the contract internal/cache.ResponseCache satisfies; the
// dispatcher depends only on this (Design Notes §9 "dynamic dispatch"
// applied equally to the cache as to storage backends).
type ResponseCache interface {
	// Serve answers from cache if the request has a live, matching entry,
	// writing either a 200 hit or a 304 and returning true. It returns false
	// on a miss, leaving the response unwritten.
	Serve(w http.ResponseWriter, r *http.Request) bool
	// Store records a freshly generated cacheable response.
	Store(r *http.Request, contentType string, body []byte)
	// Invalidate clears the whole cache (spec.md §4.7 coarse invalidation).
	Invalidate()
}

// Config carries the dispatcher's fixed, non-pluggable settings.
type Config struct {
	ServerName string
	PathPrefix string
}

// AuditEvent is what the dispatcher reports to an AuditRecorder after a
// STOW-RS store or a DELETE completes. It is deliberately independent of
// internal/audit's Entry type so this package has no dependency on gorm.
type AuditEvent struct {
	Action      string
	ResourceUID string
	ClientKey   string
	Status      string // "success", "failure", "partial"
	Error       string
	Duration    time.Duration
}

// AuditRecorder receives AuditEvents. A nil AuditRecorder disables
// auditing entirely; Record is called synchronously, before the response
// is written.
type AuditRecorder interface {
	Record(ctx context.Context, e AuditEvent)
}

// Dispatcher is the Request Dispatcher (spec.md §4.5): it turns a matched
// Router Kind into Storage Provider calls and a shaped HTTP response,
// injecting Server/CORS headers and mapping failures to HTTP status codes.
type Dispatcher struct {
	cfg      Config
	router   *Router
	provider storage.Provider
	cache    ResponseCache
	cors     CORSConfig
	audit    AuditRecorder
}

// NewDispatcher wires a Dispatcher over a storage.Provider. cache may be nil
// (caching disabled); cors may be the zero value (CORS not configured).
func NewDispatcher(cfg Config, provider storage.Provider, cache ResponseCache, cors CORSConfig) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		router:   NewRouter(cfg.PathPrefix),
		provider: provider,
		cache:    cache,
		cors:     cors,
	}
}

// WithAudit attaches an AuditRecorder for STOW/DELETE operations. It
// returns d for chaining and is optional — the zero value (nil) leaves
// auditing disabled.
func (d *Dispatcher) WithAudit(recorder AuditRecorder) *Dispatcher {
	d.audit = recorder
	return d
}

func (d *Dispatcher) recordAudit(ctx context.Context, e AuditEvent) {
	if d.audit == nil {
		return
	}
	e.ClientKey = middleware.GetClientKey(ctx)
	d.audit.Record(ctx, e)
}

// ServeHTTP implements http.Handler; mount it at cfg.PathPrefix (or as a
// catch-all beneath it — the Router strips the prefix itself).
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", d.cfg.ServerName)

	if r.Method == http.MethodOptions {
		d.serveOptions(w, r)
		return
	}
	// Every non-OPTIONS response carries the configured CORS headers; the
	// go-chi/cors handler sets them and the no-op next handler writes nothing.
	if mw := d.cors.Middleware(); mw != nil {
		mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, r)
	}

	kind, params, ok := d.router.Match(r.Method, r.URL.Path)
	if !ok {
		d.writeError(w, notFound("no route matches "+r.Method+" "+r.URL.Path))
		return
	}

	if r.Method == http.MethodGet && d.cache != nil {
		if d.cache.Serve(w, r) {
			return
		}
	}
	if r.Method == http.MethodPost || r.Method == http.MethodDelete {
		if d.cache != nil {
			defer d.cache.Invalidate()
		}
	}

	ctx := r.Context()
	switch kind {
	case KindSearchStudies:
		d.handleSearchStudies(ctx, w, r)
	case KindSearchSeries:
		d.handleSearchSeriesGlobal(ctx, w, r)
	case KindSearchInstances:
		d.handleSearchInstancesGlobal(ctx, w, r)
	case KindSearchSeriesInStudy:
		d.handleSearchSeries(ctx, w, r, identity.StudyKey(params["studyUID"]))
	case KindSearchInstancesInStudy:
		d.handleSearchInstancesInStudy(ctx, w, r, identity.StudyKey(params["studyUID"]))
	case KindSearchInstancesInSeries:
		d.handleSearchInstances(ctx, w, r, identity.StudyKey(params["studyUID"]), identity.SeriesKey(params["seriesUID"]))
	case KindRetrieveStudy:
		d.handleRetrieveStudy(ctx, w, r, identity.StudyKey(params["studyUID"]))
	case KindRetrieveSeries:
		d.handleRetrieveSeries(ctx, w, r, identity.StudyKey(params["studyUID"]), identity.SeriesKey(params["seriesUID"]))
	case KindRetrieveInstance:
		d.handleRetrieveInstance(ctx, w, r, identity.StudyKey(params["studyUID"]), identity.SeriesKey(params["seriesUID"]), identity.InstanceKey(params["instanceUID"]))
	case KindRetrieveStudyMetadata:
		d.handleStudyMetadata(ctx, w, r, identity.StudyKey(params["studyUID"]))
	case KindRetrieveSeriesMetadata:
		d.handleSeriesMetadata(ctx, w, r, identity.StudyKey(params["studyUID"]), identity.SeriesKey(params["seriesUID"]))
	case KindRetrieveInstanceMetadata:
		d.handleInstanceMetadata(ctx, w, r, identity.StudyKey(params["studyUID"]), identity.SeriesKey(params["seriesUID"]), identity.InstanceKey(params["instanceUID"]))
	case KindRetrieveFrames, KindRetrieveRendered, KindRetrieveThumbnail, KindRetrieveBulkdata:
		d.writeError(w, &HandlerError{Kind: KindInternal, Message: "not implemented"})
	case KindStoreInstances:
		d.handleStore(ctx, w, r, "")
	case KindStoreInstancesInStudy:
		d.handleStore(ctx, w, r, params["studyUID"])
	case KindDeleteStudy:
		d.handleDeleteStudy(ctx, w, identity.StudyKey(params["studyUID"]))
	case KindDeleteSeries:
		d.handleDeleteSeries(ctx, w, identity.StudyKey(params["studyUID"]), identity.SeriesKey(params["seriesUID"]))
	case KindDeleteInstance:
		d.handleDeleteInstance(ctx, w, identity.StudyKey(params["studyUID"]), identity.SeriesKey(params["seriesUID"]), identity.InstanceKey(params["instanceUID"]))
	case KindCapabilities:
		d.handleCapabilities(w)
	default:
		d.writeError(w, &HandlerError{Kind: KindInternal, Message: "unhandled route kind"})
	}
}

func (d *Dispatcher) serveOptions(w http.ResponseWriter, r *http.Request) {
	if !d.cors.Enabled() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if mw := d.cors.Middleware(); mw != nil {
		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- search ---------------------------------------------------------------

func (d *Dispatcher) handleSearchStudies(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)
	records, total, err := d.provider.SearchStudies(ctx, q)
	if err != nil {
		d.writeError(w, fromStorageError("search_studies", err))
		return
	}
	objs := make([]dicomjson.Object, 0, len(records))
	for _, rec := range records {
		objs = append(objs, studyObject(rec))
	}
	d.writeJSONSearch(w, r, objs, total)
}

func (d *Dispatcher) handleSearchSeriesGlobal(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)
	study := identity.StudyKey(q.StudyInstanceUID)
	if study == "" {
		d.writeError(w, badRequest("StudyInstanceUID is required for a global series search"))
		return
	}
	d.searchSeriesFor(ctx, w, r, study, q)
}

func (d *Dispatcher) handleSearchInstancesGlobal(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)
	study := identity.StudyKey(q.StudyInstanceUID)
	series := identity.SeriesKey(q.SeriesInstanceUID)
	if study == "" || series == "" {
		d.writeError(w, badRequest("StudyInstanceUID and SeriesInstanceUID are required for a global instance search"))
		return
	}
	d.searchInstancesFor(ctx, w, r, study, series, q)
}

func (d *Dispatcher) handleSearchSeries(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey) {
	q := parseQuery(r)
	d.searchSeriesFor(ctx, w, r, study, q)
}

func (d *Dispatcher) searchSeriesFor(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey, q identity.Query) {
	// X-Total-Count for series/instance searches is the returned count, not
	// the unpaginated total (spec.md §4.5), unlike study searches.
	records, _, err := d.provider.SearchSeries(ctx, study, q)
	if err != nil {
		d.writeError(w, fromStorageError("search_series", err))
		return
	}
	objs := make([]dicomjson.Object, 0, len(records))
	for _, rec := range records {
		objs = append(objs, seriesObject(rec))
	}
	d.writeJSONSearch(w, r, objs, len(objs))
}

func (d *Dispatcher) handleSearchInstancesInStudy(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey) {
	q := parseQuery(r)
	series := identity.SeriesKey(q.SeriesInstanceUID)
	if series == "" {
		// search across every series of the study
		infos, err := d.provider.GetStudyInstances(ctx, study)
		if err != nil {
			d.writeError(w, fromStorageError("search_instances_in_study", err))
			return
		}
		objs := make([]dicomjson.Object, 0, len(infos))
		for _, info := range infos {
			objs = append(objs, instanceObject(info))
		}
		d.writeJSONSearch(w, r, objs, len(objs))
		return
	}
	d.searchInstancesFor(ctx, w, r, study, series, q)
}

func (d *Dispatcher) handleSearchInstances(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey, series identity.SeriesKey) {
	q := parseQuery(r)
	d.searchInstancesFor(ctx, w, r, study, series, q)
}

func (d *Dispatcher) searchInstancesFor(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey, series identity.SeriesKey, q identity.Query) {
	records, _, err := d.provider.SearchInstances(ctx, study, series, q)
	if err != nil {
		d.writeError(w, fromStorageError("search_instances", err))
		return
	}
	objs := make([]dicomjson.Object, 0, len(records))
	for _, info := range records {
		objs = append(objs, instanceObject(info))
	}
	d.writeJSONSearch(w, r, objs, len(objs))
}

// writeJSONSearch writes a QIDO-RS result array, carrying X-Total-Count per
// spec.md §4.5 (unpaginated total for studies, returned count otherwise is
// the caller's choice of what it passes as total).
func (d *Dispatcher) writeJSONSearch(w http.ResponseWriter, r *http.Request, objs []dicomjson.Object, total int) {
	body, err := json.Marshal(objs)
	if err != nil {
		d.writeError(w, &HandlerError{Kind: KindInternal, Message: "encoding search response", Err: err})
		return
	}
	w.Header().Set("X-Total-Count", itoa(total))
	d.writeBody(w, r, http.StatusOK, "application/dicom+json", body)
}

// -- retrieve (WADO-RS binary) ---------------------------------------------

func (d *Dispatcher) handleRetrieveStudy(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey) {
	infos, err := d.provider.GetStudyInstances(ctx, study)
	if err != nil {
		d.writeError(w, fromStorageError("retrieve_study", err))
		return
	}
	d.writeMultipartRetrieve(ctx, w, r, "retrieve_study", infos)
}

func (d *Dispatcher) handleRetrieveSeries(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey, series identity.SeriesKey) {
	infos, err := d.provider.GetSeriesInstances(ctx, study, series)
	if err != nil {
		d.writeError(w, fromStorageError("retrieve_series", err))
		return
	}
	d.writeMultipartRetrieve(ctx, w, r, "retrieve_series", infos)
}

func (d *Dispatcher) handleRetrieveInstance(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey, series identity.SeriesKey, inst identity.InstanceKey) {
	data, ok, err := d.provider.GetInstance(ctx, study, series, inst)
	if err != nil {
		d.writeError(w, fromStorageError("retrieve_instance", err))
		return
	}
	if !ok {
		d.writeError(w, notFound("instance not found"))
		return
	}
	d.writeMultipartParts(w, r, [][]byte{data})
}

func (d *Dispatcher) writeMultipartRetrieve(ctx context.Context, w http.ResponseWriter, r *http.Request, op string, infos []storage.InstanceInfo) {
	if len(infos) == 0 {
		d.writeError(w, notFound("no instances matched"))
		return
	}
	parts := make([][]byte, 0, len(infos))
	for _, info := range infos {
		data, ok, err := d.provider.GetInstance(ctx, info.StudyInstanceUID, info.SeriesInstanceUID, info.SOPInstanceUID)
		if err != nil {
			d.writeError(w, fromStorageError(op, err))
			return
		}
		if !ok {
			continue
		}
		parts = append(parts, data)
	}
	if len(parts) == 0 {
		d.writeError(w, notFound("no instances matched"))
		return
	}
	d.writeMultipartParts(w, r, parts)
}

func (d *Dispatcher) writeMultipartParts(w http.ResponseWriter, r *http.Request, parts [][]byte) {
	boundary, body, err := multipart.Write(parts)
	if err != nil {
		d.writeError(w, &HandlerError{Kind: KindInternal, Message: "writing multipart response", Err: err})
		return
	}
	contentType := `multipart/related; type="application/dicom"; boundary=` + boundary
	d.writeBody(w, r, http.StatusOK, contentType, body)
}

// -- retrieve metadata ------------------------------------------------------

func (d *Dispatcher) handleStudyMetadata(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey) {
	sets, err := d.provider.GetStudyMetadata(ctx, study)
	if err != nil {
		d.writeError(w, fromStorageError("retrieve_study_metadata", err))
		return
	}
	d.writeMetadata(w, r, sets)
}

func (d *Dispatcher) handleSeriesMetadata(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey, series identity.SeriesKey) {
	sets, err := d.provider.GetSeriesMetadata(ctx, study, series)
	if err != nil {
		d.writeError(w, fromStorageError("retrieve_series_metadata", err))
		return
	}
	d.writeMetadata(w, r, sets)
}

func (d *Dispatcher) handleInstanceMetadata(ctx context.Context, w http.ResponseWriter, r *http.Request, study identity.StudyKey, series identity.SeriesKey, inst identity.InstanceKey) {
	attrs, ok, err := d.provider.GetInstanceMetadata(ctx, study, series, inst)
	if err != nil {
		d.writeError(w, fromStorageError("retrieve_instance_metadata", err))
		return
	}
	if !ok {
		d.writeError(w, notFound("instance not found"))
		return
	}
	d.writeMetadata(w, r, []storage.AttributeSet{attrs})
}

func (d *Dispatcher) writeMetadata(w http.ResponseWriter, r *http.Request, sets []storage.AttributeSet) {
	if len(sets) == 0 {
		d.writeError(w, notFound("no matching hierarchy"))
		return
	}
	objs := make([]dicomjson.Object, 0, len(sets))
	for _, attrs := range sets {
		objs = append(objs, dicomjson.FromAttributes(attrs))
	}
	body, err := json.Marshal(objs)
	if err != nil {
		d.writeError(w, &HandlerError{Kind: KindInternal, Message: "encoding metadata response", Err: err})
		return
	}
	d.writeBody(w, r, http.StatusOK, "application/dicom+json", body)
}

// -- store (STOW-RS) --------------------------------------------------------

// stowFailureCode is the single failure reason code spec.md §4.5 defines for
// STOW-RS processing failures.
const stowFailureCode = "A700"

func (d *Dispatcher) handleStore(ctx context.Context, w http.ResponseWriter, r *http.Request, pathStudyUID string) {
	start := time.Now()
	boundary := multipart.BoundaryFromContentType(r.Header.Get("Content-Type"))
	if boundary == "" || !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/related") {
		d.writeError(w, unsupportedMediaType("STOW-RS requires multipart/related with a boundary parameter"))
		return
	}
	body, err := readAll(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			d.writeError(w, payloadTooLarge("request body exceeds max_request_body_size"))
			return
		}
		d.writeError(w, badRequest("reading request body: "+err.Error()))
		return
	}
	parts, err := multipart.Parse(body, boundary)
	if err != nil {
		d.writeError(w, badRequest("malformed multipart body: "+err.Error()))
		return
	}

	referenced, failed := d.storeParts(ctx, parts, pathStudyUID)

	status := "success"
	var errMsg string
	switch {
	case len(failed) > 0 && len(referenced) == 0:
		status = "failure"
		errMsg = itoa(len(failed)) + " instance(s) failed"
	case len(failed) > 0:
		status = "partial"
		errMsg = itoa(len(failed)) + " of " + itoa(len(failed)+len(referenced)) + " instance(s) failed"
	}
	d.recordAudit(ctx, AuditEvent{
		Action:      "store_instances",
		ResourceUID: pathStudyUID,
		Status:      status,
		Error:       errMsg,
		Duration:    time.Since(start),
	})

	resp := dicomjson.Object{}
	if len(referenced) > 0 {
		resp["00081199"] = dicomjson.Element{VR: "SQ", Value: toAnySlice(referenced)}
	}
	if len(failed) > 0 {
		resp["00081198"] = dicomjson.Element{VR: "SQ", Value: toAnySlice(failed)}
	}
	out, err := json.Marshal(resp)
	if err != nil {
		d.writeError(w, &HandlerError{Kind: KindInternal, Message: "encoding STOW response", Err: err})
		return
	}
	d.writeBody(w, r, http.StatusOK, "application/dicom+json", out)
}

func (d *Dispatcher) storeParts(ctx context.Context, parts []multipart.Part, pathStudyUID string) (referenced, failed []dicomjson.Object) {
	for _, part := range parts {
		sopClassUID, sopInstanceUID, studyUID, seriesUID, ok := peekIdentity(part.Body)
		if !ok {
			failed = append(failed, failedSOPObject("", "", stowFailureCode))
			continue
		}
		if pathStudyUID != "" && studyUID != pathStudyUID {
			failed = append(failed, failedSOPObject(sopClassUID, sopInstanceUID, stowFailureCode))
			continue
		}
		err := d.provider.StoreInstance(ctx, part.Body, identity.StudyKey(studyUID), identity.SeriesKey(seriesUID), identity.InstanceKey(sopInstanceUID))
		if err != nil {
			log.Error().Err(err).Str("sop_instance_uid", sopInstanceUID).Msg("stow-rs: failed to store instance")
			failed = append(failed, failedSOPObject(sopClassUID, sopInstanceUID, stowFailureCode))
			continue
		}
		referenced = append(referenced, referencedSOPObject(sopClassUID, sopInstanceUID))
	}
	return referenced, failed
}

func referencedSOPObject(sopClassUID, sopInstanceUID string) dicomjson.Object {
	return dicomjson.NewBuilder().
		SetString("00081150", "UI", sopClassUID).
		SetString("00081155", "UI", sopInstanceUID).
		Build()
}

func failedSOPObject(sopClassUID, sopInstanceUID, reason string) dicomjson.Object {
	b := dicomjson.NewBuilder().
		SetString("00081150", "UI", sopClassUID).
		SetString("00081155", "UI", sopInstanceUID)
	obj := b.Build()
	obj["00081197"] = dicomjson.Element{VR: "US", Value: []any{reason}}
	return obj
}

func toAnySlice(objs []dicomjson.Object) []any {
	out := make([]any, len(objs))
	for i, o := range objs {
		out[i] = o
	}
	return out
}

// -- delete -----------------------------------------------------------------

func (d *Dispatcher) handleDeleteStudy(ctx context.Context, w http.ResponseWriter, study identity.StudyKey) {
	start := time.Now()
	affected, err := d.provider.DeleteStudy(ctx, study, identity.DeletePermanent)
	if err != nil {
		d.recordAudit(ctx, AuditEvent{Action: "delete_study", ResourceUID: string(study), Status: "failure", Error: err.Error(), Duration: time.Since(start)})
		d.writeError(w, fromStorageError("delete_study", err))
		return
	}
	if affected == 0 {
		d.recordAudit(ctx, AuditEvent{Action: "delete_study", ResourceUID: string(study), Status: "failure", Error: "not found", Duration: time.Since(start)})
		d.writeError(w, notFound("study not found"))
		return
	}
	d.recordAudit(ctx, AuditEvent{Action: "delete_study", ResourceUID: string(study), Status: "success", Duration: time.Since(start)})
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dispatcher) handleDeleteSeries(ctx context.Context, w http.ResponseWriter, study identity.StudyKey, series identity.SeriesKey) {
	start := time.Now()
	affected, err := d.provider.DeleteSeries(ctx, study, series, identity.DeletePermanent)
	if err != nil {
		d.recordAudit(ctx, AuditEvent{Action: "delete_series", ResourceUID: string(series), Status: "failure", Error: err.Error(), Duration: time.Since(start)})
		d.writeError(w, fromStorageError("delete_series", err))
		return
	}
	if affected == 0 {
		d.recordAudit(ctx, AuditEvent{Action: "delete_series", ResourceUID: string(series), Status: "failure", Error: "not found", Duration: time.Since(start)})
		d.writeError(w, notFound("series not found"))
		return
	}
	d.recordAudit(ctx, AuditEvent{Action: "delete_series", ResourceUID: string(series), Status: "success", Duration: time.Since(start)})
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dispatcher) handleDeleteInstance(ctx context.Context, w http.ResponseWriter, study identity.StudyKey, series identity.SeriesKey, inst identity.InstanceKey) {
	start := time.Now()
	existed, err := d.provider.DeleteInstance(ctx, study, series, inst, identity.DeletePermanent)
	if err != nil {
		d.recordAudit(ctx, AuditEvent{Action: "delete_instance", ResourceUID: string(inst), Status: "failure", Error: err.Error(), Duration: time.Since(start)})
		d.writeError(w, fromStorageError("delete_instance", err))
		return
	}
	if !existed {
		d.recordAudit(ctx, AuditEvent{Action: "delete_instance", ResourceUID: string(inst), Status: "failure", Error: "not found", Duration: time.Since(start)})
		d.writeError(w, notFound("instance not found"))
		return
	}
	d.recordAudit(ctx, AuditEvent{Action: "delete_instance", ResourceUID: string(inst), Status: "success", Duration: time.Since(start)})
	w.WriteHeader(http.StatusNoContent)
}

// -- capabilities -------------------------------------------------------------

func (d *Dispatcher) handleCapabilities(w http.ResponseWriter) {
	body, _ := json.Marshal(map[string]any{
		"wadoRS": true,
		"qidoRS": true,
		"stowRS": true,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// -- shared plumbing ----------------------------------------------------------

// writeBody writes the body (CORS headers were already set in ServeHTTP) and
// records the response in the Response Cache when eligible (spec.md §4.7).
func (d *Dispatcher) writeBody(w http.ResponseWriter, r *http.Request, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(body)

	if status == http.StatusOK && r.Method == http.MethodGet && d.cache != nil && isCacheable(contentType) {
		d.cache.Store(r, contentType, body)
	}
}

func isCacheable(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	return cacheableContentTypes[strings.TrimSpace(base)]
}

func (d *Dispatcher) writeError(w http.ResponseWriter, err *HandlerError) {
	log.Error().Err(err.Err).Str("message", err.Message).Int("status", err.Kind.Status()).Msg("dicomweb: request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Kind.Status())
	json.NewEncoder(w).Encode(map[string]string{"error": err.Message})
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// readAll drains the request body without imposing its own cap; the
// max_request_body_size configuration option is enforced by an outer
// http.MaxBytesReader set up by the server's middleware chain, which turns
// an oversized body into a *http.MaxBytesError read error. handleStore maps
// that specifically to PayloadTooLarge rather than BadRequest.
func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// peekIdentity decodes just enough of a STOW-RS part to learn the
// identifiers needed to route and respond to it, without duplicating
// dicomcodec's parsing logic.
func peekIdentity(data []byte) (sopClassUID, sopInstanceUID, studyUID, seriesUID string, ok bool) {
	header, _, err := dicomcodec.Parse(data)
	if err != nil {
		return "", "", "", "", false
	}
	if !identity.ValidUID(header.StudyInstanceUID) || !identity.ValidUID(header.SeriesInstanceUID) || !identity.ValidUID(header.SOPInstanceUID) {
		return "", "", "", "", false
	}
	return header.SOPClassUID, header.SOPInstanceUID, header.StudyInstanceUID, header.SeriesInstanceUID, true
}
