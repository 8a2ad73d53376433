package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/limits"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/parser"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	p := s.getProviders()
	if p.Charts == nil {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, p.Charts())
}

func (s *Server) handleChartReport(w http.ResponseWriter, r *http.Request) {
	s.serveNamed(w, r, s.getProviders().Report)
}

// handleChartHistory serves a chart's samples, optionally limited to a
// trailing window such as ?since=15m.
func (s *Server) handleChartHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Duration
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "since must be a positive duration such as 15m", http.StatusBadRequest)
			return
		}
		since = d
	}
	history := s.getProviders().History
	if history == nil {
		s.serveNamed(w, r, nil)
		return
	}
	s.serveNamed(w, r, func(name string) (any, error) { return history(name, since) })
}

func (s *Server) serveNamed(w http.ResponseWriter, r *http.Request, get func(string) (any, error)) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Chart name is required", http.StatusBadRequest)
		return
	}
	if get == nil {
		http.Error(w, "Chart not found", http.StatusNotFound)
		return
	}
	data, err := get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, data)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.RecentEvents()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(events) {
			events = events[:n]
		}
	}
	writeJSON(w, events)
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	p := s.getProviders()
	if p.Policies == nil {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, p.Policies())
}

type PolicyValidationRequest struct {
	Source string `json:"source" validate:"required,max=10000"`
}

type PolicyValidationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
	Nodes  int      `json:"nodes"`
}

func (s *Server) handlePolicyValidation(w http.ResponseWriter, r *http.Request) {
	var req PolicyValidationRequest
	if !s.decode(w, r, &req) {
		return
	}

	p := parser.New(parser.NewLexer(req.Source))
	program := p.ParseProgram()
	resp := PolicyValidationResponse{Errors: p.Errors()}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	resp.Valid = len(resp.Errors) == 0
	if resp.Valid {
		resp.Nodes = program.CountNodes()
	}
	writeJSON(w, resp)
}

type EvaluateRequest struct {
	Values     []float64 `json:"values" validate:"required,min=1,max=100000"`
	CenterLine float64   `json:"centerLine"`
	UCL        float64   `json:"upperControlLimit"`
	LCL        float64   `json:"lowerControlLimit"`
}

type EvaluateResponse struct {
	Report          *rules.EvaluationReport       `json:"report"`
	Recommendations []string                      `json:"recommendations"`
	Spans           map[rules.RuleID][]rules.Span `json:"spans"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !s.decode(w, r, &req) {
		return
	}
	cl := rules.ControlLimits{CenterLine: req.CenterLine, UCL: req.UCL, LCL: req.LCL}
	if err := cl.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := rules.EvaluateLimits(req.Values, cl)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	spans := make(map[rules.RuleID][]rules.Span)
	for _, id := range rules.AllRules {
		if sp := report.Rule(id).Spans(); len(sp) > 0 {
			spans[id] = sp
		}
	}
	writeJSON(w, EvaluateResponse{
		Report:          report,
		Recommendations: rules.RecommendedActions(report.Violations),
		Spans:           spans,
	})
}

type LimitsRequest struct {
	Method    string      `json:"method" validate:"required,oneof=xbar-r imr sigma"`
	Values    []float64   `json:"values" validate:"max=100000"`
	Subgroups [][]float64 `json:"subgroups" validate:"max=10000"`
	Span      int         `json:"span" validate:"omitempty,gte=2,lte=10"`
	K         float64     `json:"k" validate:"omitempty,gt=0,lte=6"`
}

type LimitsResponse struct {
	Method string              `json:"method"`
	Limits rules.ControlLimits `json:"limits"`
	Detail any                 `json:"detail"`
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	var req LimitsRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		resp = LimitsResponse{Method: req.Method}
		err  error
	)
	switch req.Method {
	case "xbar-r":
		var l limits.XBarRLimits
		l, err = limits.XBarR(req.Subgroups)
		resp.Limits, resp.Detail = l.Limits(), l
	case "imr":
		span := req.Span
		if span == 0 {
			span = limits.DefaultSpan
		}
		var l limits.IndividualsMRLimits
		l, err = limits.IndividualsMR(req.Values, span)
		resp.Limits, resp.Detail = l.Limits(), l
	case "sigma":
		k := req.K
		if k == 0 {
			k = limits.DefaultSigma
		}
		var l limits.SigmaLimits
		l, err = limits.Sigma(req.Values, k)
		resp.Limits, resp.Detail = l.Limits(), l
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, resp)
}

type CapabilityRequest struct {
	Values     []float64 `json:"values" validate:"required,min=30,max=100000"`
	USL        float64   `json:"usl"`
	LSL        float64   `json:"lsl" validate:"ltfield=USL"`
	Target     *float64  `json:"target"`
	Confidence float64   `json:"confidence" validate:"omitempty,gt=0,lt=1"`
}

type CapabilityResponse struct {
	Result      capability.Result    `json:"result"`
	CpkInterval *capability.Interval `json:"cpkInterval,omitempty"`
}

func (s *Server) handleCapability(w http.ResponseWriter, r *http.Request) {
	var req CapabilityRequest
	if !s.decode(w, r, &req) {
		return
	}

	var opts []capability.Option
	if req.Target != nil {
		opts = append(opts, capability.WithTarget(*req.Target))
	}
	res, err := capability.Analyze(req.Values, capability.SpecLimits{USL: req.USL, LSL: req.LSL}, opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := CapabilityResponse{Result: res}
	if req.Confidence > 0 {
		ci, err := capability.CpkConfidenceInterval(res.Cpk, res.N, req.Confidence)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp.CpkInterval = &ci
	}
	writeJSON(w, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}
