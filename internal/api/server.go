// Package api exposes the job engine over HTTP.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/CharanSaiVaddi/blockctl/internal/job"
	"github.com/CharanSaiVaddi/blockctl/internal/progress"
	"github.com/CharanSaiVaddi/blockctl/internal/remote"
	"github.com/CharanSaiVaddi/blockctl/internal/worker"
)

// Engine is the part of the worker the API drives.
type Engine interface {
	Start(ctx context.Context, req worker.StartRequest) worker.Result
	CanMerge(sourceID string, mode job.Mode, includeThreadBlocking bool) bool
	Stop()
	ForceStop()
	ResetStuckState()
	Status() worker.Status
}

type Subscriber interface {
	Subscribe(buf int) (<-chan progress.Event, func())
}

// StartJobRequest is the body of POST /api/v1/jobs.
type StartJobRequest struct {
	SourceID              string `json:"source_id" validate:"required,numeric"`
	Mode                  string `json:"mode" validate:"required,oneof=mute block"`
	IncludeThreadBlocking bool   `json:"include_thread_blocking"`
	CustomNote            string `json:"custom_note" validate:"max=500"`
}

type Server struct {
	app       *fiber.App
	engine    Engine
	events    Subscriber
	log       logrus.FieldLogger
	validate  *validator.Validate
	keepAlive time.Duration
	done      chan struct{}
}

func NewServer(engine Engine, events Subscriber, log logrus.FieldLogger) *Server {
	s := &Server{
		engine:    engine,
		events:    events,
		log:       log,
		validate:  validator.New(),
		keepAlive: 15 * time.Second,
		done:      make(chan struct{}),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "blockctl",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(RequestLogger(log))

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := s.app.Group("/api/v1")
	v1.Post("/jobs", s.startJob)
	v1.Get("/jobs/status", s.status)
	v1.Get("/jobs/can-merge", s.canMerge)
	v1.Post("/jobs/stop", s.stop)
	v1.Post("/jobs/force-stop", s.forceStop)
	v1.Post("/jobs/reset", s.reset)
	v1.Get("/events", s.streamEvents)
	return s
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.WithField("addr", addr).Info("api listening")
	return s.app.Listen(addr)
}

// Shutdown ends open event streams and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.app.ShutdownWithContext(ctx)
}

// startJob starts a job or merges into the running one.
// POST /api/v1/jobs
func (s *Server) startJob(c *fiber.Ctx) error {
	var body StartJobRequest
	if err := c.BodyParser(&body); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := s.validate.Struct(body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Validation failed",
			"errors":  FormatValidationErrors(err),
		})
	}

	res := s.engine.Start(c.UserContext(), worker.StartRequest{
		SourceID:              body.SourceID,
		Mode:                  job.Mode(body.Mode),
		IncludeThreadBlocking: body.IncludeThreadBlocking,
		CustomNote:            body.CustomNote,
	})
	if !res.Success {
		var mre *worker.MergeRejectedError
		if errors.As(res.Err, &mre) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"status":  "error",
				"message": res.Error,
				"reason":  mre.Reason,
			})
		}
		var lfe *remote.ListFetchError
		if errors.As(res.Err, &lfe) {
			return RespondWithError(c, fiber.StatusUnprocessableEntity, res.Error)
		}
		return RespondWithError(c, fiber.StatusInternalServerError, res.Error)
	}
	return RespondWithJSON(c, fiber.StatusAccepted, fiber.Map{
		"message": res.Message,
		"job":     s.engine.Status(),
	})
}

// GET /api/v1/jobs/status
func (s *Server) status(c *fiber.Ctx) error {
	return RespondWithJSON(c, fiber.StatusOK, s.engine.Status())
}

// GET /api/v1/jobs/can-merge?source_id=&mode=&include_thread_blocking=
func (s *Server) canMerge(c *fiber.Ctx) error {
	sourceID := c.Query("source_id")
	if sourceID == "" {
		return RespondWithError(c, fiber.StatusBadRequest, "source_id is required")
	}
	mode, err := job.ParseMode(c.Query("mode"))
	if err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, err.Error())
	}
	ok := s.engine.CanMerge(sourceID, mode, c.QueryBool("include_thread_blocking", false))
	return RespondWithJSON(c, fiber.StatusOK, fiber.Map{"canMerge": ok})
}

func (s *Server) stop(c *fiber.Ctx) error {
	s.engine.Stop()
	return RespondWithJSON(c, fiber.StatusOK, fiber.Map{"message": "Stop requested", "job": s.engine.Status()})
}

func (s *Server) forceStop(c *fiber.Ctx) error {
	s.engine.ForceStop()
	return RespondWithJSON(c, fiber.StatusOK, fiber.Map{"message": "Force stopped", "job": s.engine.Status()})
}

func (s *Server) reset(c *fiber.Ctx) error {
	s.engine.ResetStuckState()
	return RespondWithJSON(c, fiber.StatusOK, fiber.Map{"message": "State reset", "job": s.engine.Status()})
}

// streamEvents relays progress events as server-sent events until the
// client goes away or the server shuts down.
// GET /api/v1/events
func (s *Server) streamEvents(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	ch, cancel := s.events.Subscribe(32)
	done, keepAlive, log := s.done, s.keepAlive, s.log

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(e)
				if err != nil {
					log.WithError(err).Warn("encode progress event")
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Action, payload)
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
			case <-done:
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
