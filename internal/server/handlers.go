package server

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/faced/internal/config"
	"github.com/andresmejia3/faced/internal/imageio"
	"github.com/andresmejia3/faced/internal/types"
	"github.com/andresmejia3/faced/internal/utils"
	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/mem"
)

var errMalformedForm = errors.New("malformed form")

type detectResponse struct {
	Faces  []types.FaceRegion `json:"faces"`
	Count  int                `json:"count"`
	Width  int                `json:"width"`
	Height int                `json:"height"`
	Color  string             `json:"color"` // effective outline color as #RRGGBB
	Image  string             `json:"image"` // data URI of the annotated JPEG
}

// detection is the outcome of one detect pass.
type detection struct {
	req types.Request
	res *types.Result
	jpg []byte
}

type healthResponse struct {
	Status            string  `json:"status"`
	Detector          string  `json:"detector"`
	Version           string  `json:"version"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	resp := healthResponse{
		Status:   "ok",
		Detector: s.pipeline.Detector().Name(),
		Version:  s.version,
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemoryUsedPercent = vm.UsedPercent
	} else {
		s.logger.Warnw("Failed to read memory stats", "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	out, err := s.detect(w, r)
	if err != nil {
		s.logFailure(r, err, writeFailure(w, err))
		return
	}

	faces := out.res.Faces
	if faces == nil {
		faces = []types.FaceRegion{}
	}
	writeJSON(w, http.StatusOK, detectResponse{
		Faces:  faces,
		Count:  len(faces),
		Width:  out.res.Width,
		Height: out.res.Height,
		Color:  imageio.FormatHexColor(out.req.Color),
		Image:  "data:" + imageio.DownloadMIME + ";base64," + base64.StdEncoding.EncodeToString(out.jpg),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	out, err := s.detect(w, r)
	if err != nil {
		s.logFailure(r, err, writeFailure(w, err))
		return
	}
	jpg := out.jpg

	w.Header().Set("Content-Type", imageio.DownloadMIME)
	w.Header().Set("Content-Disposition", `attachment; filename="`+imageio.DownloadName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(jpg)))
	w.WriteHeader(http.StatusOK)
	w.Write(jpg)
}

// detect runs one full acquisition, pipeline and encode pass for the request.
func (s *Server) detect(w http.ResponseWriter, r *http.Request) (*detection, error) {
	start := time.Now()
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, errors.WithHint(errors.Wrap(err, "upload"),
				"images are limited to "+strconv.Itoa(s.cfg.Server.MaxUploadMB)+" MB")
		case errors.Is(err, http.ErrNotMultipart):
			return nil, imageio.ErrNoInput
		default:
			return nil, errors.Mark(errors.Wrap(err, "parse form"), errMalformedForm)
		}
	}
	defer r.MultipartForm.RemoveAll()

	data, err := readUpload(r)
	if err != nil {
		return nil, err
	}

	req, err := s.parseRequest(r)
	if err != nil {
		return nil, err
	}

	grid, format, err := s.decoder.Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Run(grid, req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imageio.EncodeJPEG(&buf, res.Annotated, s.cfg.Image.JPEGQuality); err != nil {
		return nil, err
	}

	s.logger.Infow("Detection complete",
		"request_id", requestID(r.Context()),
		"route", r.URL.Path,
		"image_id", utils.ShortID(utils.GenerateImageID(data)),
		"format", format,
		"size", strconv.Itoa(res.Width)+"x"+strconv.Itoa(res.Height),
		"scale_factor", req.Params.ScaleFactor,
		"min_neighbors", req.Params.MinNeighbors,
		"faces", len(res.Faces),
		"duration", time.Since(start),
	)
	return &detection{req: req, res: res, jpg: buf.Bytes()}, nil
}

func readUpload(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, imageio.ErrNoInput
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read image field"), errMalformedForm)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read upload")
	}
	if len(data) == 0 {
		return nil, imageio.ErrNoInput
	}
	return data, nil
}

// parseRequest reads the surface controls. Unparsable numbers fall back to
// the configured defaults and every value is clamped to the surface range.
func (s *Server) parseRequest(r *http.Request) (types.Request, error) {
	req := s.cfg.DefaultRequest()

	if v := strings.TrimSpace(r.FormValue("scale_factor")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			req.Params.ScaleFactor = config.ClampScaleFactor(f)
		}
	}
	if v := strings.TrimSpace(r.FormValue("min_neighbors")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.Params.MinNeighbors = config.ClampMinNeighbors(n)
		}
	}
	if v := r.FormValue("color"); v != "" {
		c, err := imageio.ParseHexColor(v)
		if err != nil {
			return types.Request{}, err
		}
		req.Color = c
	}
	return req, nil
}

func (s *Server) logFailure(r *http.Request, err error, status int) {
	if status == http.StatusNoContent {
		return
	}
	log := s.logger.Warnw
	if status >= http.StatusInternalServerError {
		log = s.logger.Errorw
	}
	log("Detection failed",
		"request_id", requestID(r.Context()),
		"route", r.URL.Path,
		"status", status,
		"error", err,
	)
}
