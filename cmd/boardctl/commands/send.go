package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"prism-board/client"
	"prism-board/domain"
)

// send emits one mutation over a fresh realtime connection and waits for its
// outcome. The connection never joins a room, so the only outcome it receives
// is the one addressed to it.
func send(ctx context.Context, event string, payload map[string]any) ([]byte, error) {
	if err := requireToken(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	conn, err := client.New(serverURL, logger())
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx, token); err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return nil, Error("not authorized", "The server refused the token.", []string{"Log in again:\n  boardctl login --email ... --password ..."})
		}
		return nil, Error("connection failed", err.Error(), nil)
	}
	defer conn.Disconnect()

	ok, err := conn.Listen(domain.Success(event))
	if err != nil {
		return nil, err
	}
	failed, err := client.ListenAs[domain.FailurePayload](conn, domain.Failure(event))
	if err != nil {
		return nil, err
	}
	payload["requestId"] = uuid.NewString()
	if err := conn.Emit(event, payload); err != nil {
		return nil, err
	}

	select {
	case data, open := <-ok.C():
		if !open {
			return nil, client.ErrNotConnected
		}
		return data, nil
	case f, open := <-failed.C():
		if !open {
			return nil, client.ErrNotConnected
		}
		return nil, Error(event+" failed", f.Message, nil)
	case <-ctx.Done():
		return nil, Error("timed out", fmt.Sprintf("No answer to %s within %s.", event, timeout), nil)
	}
}
