// Package mediatest runs an in-process object storage server speaking the
// media download and upload protocols, for tests.
package mediatest

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Fault is a canned response returned instead of handling a request.
// An empty Method matches any request.
type Fault struct {
	Method string
	Status int
	Header http.Header
}

// Recorded is a request as the server received it.
type Recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

type object struct {
	data            []byte
	contentEncoding string
	contentType     string
}

type session struct {
	name        string
	contentType string
	data        []byte
	done        bool
}

// Server is a fake media server. Objects are served from
// /download/{name}; uploads start at /upload and resumable sessions
// continue at /session/{id}.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	objects     map[string]*object
	sessions    map[string]*session
	faults      []Fault
	requests    []Recorded
	omitHash    bool
	corruptHash bool
	shortAccept int64
	dropRange   bool
}

// New starts a Server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		objects:  make(map[string]*object),
		sessions: make(map[string]*session),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /download/{name}", s.handleDownload)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("PUT /session/{id}", s.handleSession)

	log := slog.New(slog.NewTextHandler(t.Output(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	s.Server = httptest.NewServer(logged(log, s.record(mux)))
	t.Cleanup(s.Close)

	return s
}

// MediaURL returns the download URL of name.
func (s *Server) MediaURL(name string) string {
	return s.URL + "/download/" + name
}

// UploadURL returns the upload endpoint for uploadType (media, multipart
// or resumable). Simple uploads are stored under name.
func (s *Server) UploadURL(uploadType, name string) string {
	return fmt.Sprintf("%s/upload?uploadType=%s&name=%s", s.URL, uploadType, name)
}

// Put stores data under name.
func (s *Server) Put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = &object{data: bytes.Clone(data)}
}

// PutGzip stores plain compressed with gzip, served with
// Content-Encoding: gzip. Digests describe the compressed bytes.
func (s *Server) PutGzip(name string, plain []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(plain)
	_ = zw.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = &object{data: buf.Bytes(), contentEncoding: "gzip"}

	return bytes.Clone(buf.Bytes())
}

// Object returns the stored bytes of name.
func (s *Server) Object(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[name]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

// FailNext queues faults, consumed one per matching request.
func (s *Server) FailNext(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// OmitHash stops the server from reporting digests.
func (s *Server) OmitHash(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitHash = v
}

// CorruptHash makes the server report digests of different bytes.
func (s *Server) CorruptHash(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptHash = v
}

// ShortAccept makes the next upload chunk persist only n of its bytes.
func (s *Server) ShortAccept(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortAccept = n
}

// DropRange makes the next 308 omit its range header.
func (s *Server) DropRange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropRange = true
}

// Requests returns every request received so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		fault, ok := s.popFault(r.Method)
		s.mu.Unlock()

		if ok {
			for k, v := range fault.Header {
				w.Header()[k] = v
			}
			w.WriteHeader(fault.Status)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) popFault(method string) (Fault, bool) {
	for i, f := range s.faults {
		if f.Method == "" || f.Method == method {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
			return f, true
		}
	}
	return Fault{}, false
}

// digests returns the md5 and crc32c of data as the server reports them.
func (s *Server) digests(data []byte) (string, string) {
	if s.corruptHash {
		data = append(bytes.Clone(data), 0xff)
	}
	sum := md5.Sum(data)
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)))
	return base64.StdEncoding.EncodeToString(sum[:]), base64.StdEncoding.EncodeToString(crc[:])
}

func (s *Server) setHash(w http.ResponseWriter, data []byte) {
	if s.omitHash {
		return
	}
	md5sum, crc := s.digests(data)
	w.Header().Set("X-Goog-Hash", "crc32c="+crc+",md5="+md5sum)
}

var rangeRE = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[r.PathValue("name")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	size := int64(len(obj.data))

	s.setHash(w, obj.data)
	if obj.contentEncoding != "" {
		w.Header().Set("Content-Encoding", obj.contentEncoding)
	}

	rng := r.Header.Get("Range")
	if rng == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.data)
		return
	}

	m := rangeRE.FindStringSubmatch(rng)
	if m == nil || (m[1] == "" && m[2] == "") {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}

	var first, last int64
	switch {
	case m[1] == "":
		n, _ := strconv.ParseInt(m[2], 10, 64)
		first, last = max(size-n, 0), size-1
	case m[2] == "":
		first, _ = strconv.ParseInt(m[1], 10, 64)
		last = size - 1
	default:
		first, _ = strconv.ParseInt(m[1], 10, 64)
		last, _ = strconv.ParseInt(m[2], 10, 64)
		last = min(last, size-1)
	}

	if first >= size || first > last {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", first, last, size))
	w.Header().Set("Content-Length", strconv.FormatInt(last-first+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(obj.data[first : last+1])
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Query().Get("uploadType") {
	case "media":
		name := r.URL.Query().Get("name")
		s.objects[name] = &object{data: body, contentType: r.Header.Get("Content-Type")}
		s.writeResource(w, name)

	case "multipart":
		name, data, ct, err := parseMultipart(r.Header.Get("Content-Type"), body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.objects[name] = &object{data: data, contentType: ct}
		s.writeResource(w, name)

	case "resumable":
		var meta struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(body, &meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := uuid.NewString()
		s.sessions[id] = &session{name: meta.Name, contentType: r.Header.Get("X-Upload-Content-Type")}
		w.Header().Set("Location", s.URL+"/session/"+id)
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "unknown upload type", http.StatusBadRequest)
	}
}

func parseMultipart(contentType string, body []byte) (name string, data []byte, ct string, err error) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil || mt != "multipart/related" {
		return "", nil, "", fmt.Errorf("unexpected content type %q", contentType)
	}

	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		return "", nil, "", fmt.Errorf("reading metadata part: %w", err)
	}
	var meta struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		return "", nil, "", fmt.Errorf("decoding metadata: %w", err)
	}

	dataPart, err := mr.NextPart()
	if err != nil {
		return "", nil, "", fmt.Errorf("reading data part: %w", err)
	}
	data, err = io.ReadAll(dataPart)
	if err != nil {
		return "", nil, "", fmt.Errorf("reading data: %w", err)
	}

	return meta.Name, data, dataPart.Header.Get("Content-Type"), nil
}

var contentRangeRE = regexp.MustCompile(`^bytes (?:(\d+)-(\d+)|\*)/(\d+|\*)$`)

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if sess.done {
		s.writeResource(w, sess.name)
		return
	}

	m := contentRangeRE.FindStringSubmatch(r.Header.Get("Content-Range"))
	if m == nil {
		http.Error(w, "bad content-range", http.StatusBadRequest)
		return
	}

	received := int64(len(sess.data))
	if m[1] != "" {
		first, _ := strconv.ParseInt(m[1], 10, 64)
		if first > received {
			http.Error(w, "chunk leaves a gap", http.StatusBadRequest)
			return
		}
		var chunk []byte
		if skip := received - first; skip < int64(len(body)) {
			chunk = body[skip:]
		}
		if s.shortAccept > 0 && s.shortAccept < int64(len(chunk)) {
			chunk = chunk[:s.shortAccept]
		}
		s.shortAccept = 0
		sess.data = append(sess.data, chunk...)
	}

	if m[3] != "*" {
		total, _ := strconv.ParseInt(m[3], 10, 64)
		if int64(len(sess.data)) == total {
			sess.done = true
			s.objects[sess.name] = &object{data: sess.data, contentType: sess.contentType}
			s.writeResource(w, sess.name)
			return
		}
	}

	if len(sess.data) > 0 && !s.dropRange {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(sess.data)-1))
	}
	s.dropRange = false
	w.WriteHeader(http.StatusPermanentRedirect)
}

// writeResource answers a completed upload with the object's metadata.
func (s *Server) writeResource(w http.ResponseWriter, name string) {
	obj := s.objects[name]
	resource := map[string]string{
		"name":        name,
		"size":        strconv.Itoa(len(obj.data)),
		"contentType": obj.contentType,
	}
	if !s.omitHash {
		resource["md5Hash"], resource["crc32c"] = s.digests(obj.data)
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resource)
}

// ContentTypes returns the media types of the parts of a recorded
// multipart body, for assertions on request framing.
func ContentTypes(rec Recorded) ([]string, error) {
	_, params, err := mime.ParseMediaType(rec.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	var types []string
	mr := multipart.NewReader(bytes.NewReader(rec.Body), params["boundary"])
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return types, nil
		}
		if err != nil {
			return nil, err
		}
		types = append(types, strings.ToLower(p.Header.Get("Content-Type")))
	}
}
