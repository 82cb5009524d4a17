// Package transport exposes the executor's resolve and commit operations
// over NATS request-reply. Requests are principal-authenticated before any
// audit entry is written; disambiguation and conflict outcomes travel as
// typed statuses, never as error strings.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/exec"
	"github.com/harborchat/valet/pkg/logger"
	"github.com/harborchat/valet/pkg/outcome"
)

const (
	SubjectResolve = "valet.action.resolve"
	SubjectCommit  = "valet.action.commit"
)

// Request is one resolve or commit call on the wire.
type Request struct {
	Action         action.Kind            `json:"action"`
	Parameters     map[string]interface{} `json:"parameters"`
	PrincipalID    string                 `json:"principal_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Token          string                 `json:"token"`
}

// Server answers resolve/commit requests against the executor.
type Server struct {
	conn     *nats.Conn
	svc      *exec.Service
	verifier *Verifier
	timeout  time.Duration

	subs []*nats.Subscription
}

func NewServer(conn *nats.Conn, svc *exec.Service, verifier *Verifier, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{conn: conn, svc: svc, verifier: verifier, timeout: timeout}
}

// Connect dials NATS with the reconnect posture a long-lived gateway wants.
func Connect(url, name string, timeout time.Duration) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return conn, nil
}

func (s *Server) Start() error {
	resolveSub, err := s.conn.Subscribe(SubjectResolve, func(msg *nats.Msg) {
		s.respond(msg, s.process(msg.Data, false))
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubjectResolve, err)
	}
	commitSub, err := s.conn.Subscribe(SubjectCommit, func(msg *nats.Msg) {
		s.respond(msg, s.process(msg.Data, true))
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", SubjectCommit, err)
	}
	s.subs = append(s.subs, resolveSub, commitSub)

	logger.InfoCF("transport", "Action RPC listening", map[string]interface{}{
		"subjects": []string{SubjectResolve, SubjectCommit},
	})
	return nil
}

func (s *Server) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
}

// process decodes, authenticates, and dispatches one request. Auth and
// decode failures are reported before the executor is reached, so they
// carry no action id.
func (s *Server) process(data []byte, commit bool) outcome.Outcome {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return outcome.Failure(outcome.FailureParams, "", "invalid request payload")
	}
	if req.PrincipalID == "" {
		return outcome.Failure(outcome.FailureAuth, "", "missing principal")
	}
	if err := s.verifier.Authorize(req.Token, req.PrincipalID); err != nil {
		logger.WarnCF("transport", "Request rejected", map[string]interface{}{
			"principal": req.PrincipalID,
			"error":     err.Error(),
		})
		return outcome.Failure(outcome.FailureAuth, "", "not authorized for this principal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if commit {
		return s.svc.Commit(ctx, req.Action, req.Parameters, req.PrincipalID, req.ConversationID)
	}
	return s.svc.Resolve(ctx, req.Action, req.Parameters, req.PrincipalID, req.ConversationID)
}

func (s *Server) respond(msg *nats.Msg, out outcome.Outcome) {
	data, err := json.Marshal(out)
	if err != nil {
		logger.ErrorCF("transport", "Response encode failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := msg.Respond(data); err != nil {
		logger.WarnCF("transport", "Response send failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Client is the orchestrator-side counterpart. It satisfies the
// orchestrator's Executor interface; transport failures surface as
// internal failures with no action id, since no audit entry can exist.
type Client struct {
	conn        *nats.Conn
	token       string
	principalID string
	timeout     time.Duration
}

func NewClient(conn *nats.Conn, verifier *Verifier, principalID string, tokenTTL, timeout time.Duration) (*Client, error) {
	token, err := verifier.Mint(principalID, tokenTTL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{conn: conn, token: token, principalID: principalID, timeout: timeout}, nil
}

func (c *Client) Resolve(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, conversationID string) outcome.Outcome {
	return c.request(ctx, SubjectResolve, kind, params, principalID, conversationID)
}

func (c *Client) Commit(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, conversationID string) outcome.Outcome {
	return c.request(ctx, SubjectCommit, kind, params, principalID, conversationID)
}

func (c *Client) request(ctx context.Context, subject string, kind action.Kind, params map[string]interface{}, principalID, conversationID string) outcome.Outcome {
	payload, err := json.Marshal(Request{
		Action:         kind,
		Parameters:     params,
		PrincipalID:    principalID,
		ConversationID: conversationID,
		Token:          c.token,
	})
	if err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "encoding request: "+err.Error())
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "action service unreachable: "+err.Error())
	}

	var out outcome.Outcome
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "decoding response: "+err.Error())
	}
	return out
}
