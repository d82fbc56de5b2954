package api

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/approval"
)

// LogNotifier reports terminal request outcomes to the log. Delivery to
// people (mail, chat) is a separate service reading these lines.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) RequestClosed(_ context.Context, r approval.Request) error {
	n.Logger.Info("request closed",
		zap.String("request_id", r.ID),
		zap.String("type", string(r.Type)),
		zap.String("requester_id", r.RequesterID),
		zap.String("status", string(r.FinalStatus)),
		zap.String("effect", string(r.Effect)))
	return nil
}
