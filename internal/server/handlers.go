package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/cruciblehq/cruxmatrix/internal"
	"github.com/cruciblehq/cruxmatrix/internal/build"
	"github.com/cruciblehq/cruxmatrix/internal/pipeline"
	"github.com/cruciblehq/cruxmatrix/internal/protocol"
)

// Handles a build command.
//
// Opens the requested manifest and realizes the selected outputs against the
// shared cache. Failed cells are part of a successful response; only
// request-level failures, such as an unknown output, produce an error.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	jobs := req.Jobs
	if jobs <= 0 {
		jobs = s.jobs
	}

	p, err := pipeline.Open(pipeline.Options{
		Manifest: req.Manifest,
		Store:    s.store,
		Jobs:     jobs,
		Load:     req.Load,
		Runtime:  s.runtime,
	})
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	report, err := p.Build(ctx, req.Outputs, req.All)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, buildResult(report))
}

// Converts a report to its wire form.
func buildResult(report *build.Report) *protocol.BuildResult {
	result := &protocol.BuildResult{Results: make([]protocol.OutputResult, 0, len(report.Results))}
	for _, res := range report.Results {
		out := protocol.OutputResult{
			Output: res.Output,
			Kind:   string(res.Kind),
			Status: string(res.Status),
			Path:   res.Path,
			Image:  res.Image,
			Size:   res.Size,
		}
		if res.Duration > 0 {
			out.Duration = res.Duration.String()
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
			result.Failed++
		}
		result.Results = append(result.Results, out)
	}
	return result
}

// Handles a list command.
func (s *Server) handleList(conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.ListRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	p, err := pipeline.Open(pipeline.Options{Manifest: req.Manifest, Store: s.store})
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	result := &protocol.ListResult{}
	for _, o := range p.Outputs() {
		result.Outputs = append(result.Outputs, protocol.Output{Name: o.Name, Kind: o.Kind, Job: o.Job, Target: o.Target})
	}

	s.respond(conn, protocol.CmdOK, result)
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds := s.builds
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  uptime.String(),
		Builds:  builds,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go s.Stop()
}
