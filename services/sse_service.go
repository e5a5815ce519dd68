package services

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"dice-match-system/models"
	"dice-match-system/repository"
)

const sseKeepaliveInterval = 15 * time.Second

// StreamService pushes session and match document updates to clients over
// Server-Sent Events. Each connection subscribes to the store's change feed
// for a single document and relays every new revision as a JSON event.
type StreamService struct {
	Sessions *repository.SessionRepository
	Matches  *repository.MatchRepository
}

func NewStreamService(sessions *repository.SessionRepository, matches *repository.MatchRepository) *StreamService {
	return &StreamService{Sessions: sessions, Matches: matches}
}

// StreamSessionSSE streams revisions of one session to a participant. The
// stream ends when the session document is deleted (cancelled, expired, or
// promoted into a match) or the client disconnects.
func (s *StreamService) StreamSessionSSE(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	sessionID := c.Params("id")

	session, err := s.Sessions.Get(c.Context(), sessionID)
	if err != nil {
		return respondError(c, err)
	}
	if !session.HasPlayer(playerID) {
		return respondError(c, &models.AuthorizationError{PlayerID: playerID, Resource: "session " + sessionID})
	}

	updates, stop, err := s.watchSession(sessionID)
	if err != nil {
		return respondError(c, err)
	}
	return streamDocSSE(c, "session", updates, stop)
}

// StreamMatchSSE streams revisions of one match to a participant. Terminal
// match documents stick around until the reaper collects them, so the final
// revision (completed or abandoned) is always delivered.
func (s *StreamService) StreamMatchSSE(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	matchID := c.Params("id")

	match, err := s.Matches.Get(c.Context(), matchID)
	if err != nil {
		return respondError(c, err)
	}
	if !match.IsAuthorized(playerID) {
		return respondError(c, &models.AuthorizationError{PlayerID: playerID, Resource: "match " + matchID})
	}

	updates, stop, err := s.watchMatch(matchID)
	if err != nil {
		return respondError(c, err)
	}
	return streamDocSSE(c, "match", updates, stop)
}

func (s *StreamService) watchSession(id string) (<-chan []byte, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Sessions.Watch(ctx, id)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return ch, cancel, nil
}

func (s *StreamService) watchMatch(id string) (<-chan []byte, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Matches.Watch(ctx, id)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return ch, cancel, nil
}

// streamDocSSE is the shared connection loop: relay updates as named events,
// keepalive comments while idle, end on deletion or client disconnect.
func streamDocSSE(c *fiber.Ctx, event string, updates <-chan []byte, stop context.CancelFunc) error {
	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	clientCtx := c.Context()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer stop()

		ticker := time.NewTicker(sseKeepaliveInterval)
		defer ticker.Stop()

		// Initial keepalive so proxies commit the response.
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case payload, ok := <-updates:
				if !ok {
					// Document deleted (or watch torn down): tell the
					// client the stream is complete, then close.
					fmt.Fprintf(w, "event: %s_closed\ndata: {}\n\n", event)
					w.Flush()
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-clientCtx.Done():
				return
			}
		}
	})

	return nil
}
