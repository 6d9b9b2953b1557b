package northbound

import (
	"context"

	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

// ControlExecutor carries out validated control actions. The dispatcher
// never executes actions itself.
type ControlExecutor interface {
	Execute(ctx context.Context, record *model.NTNControlRecord) error
}

// loggingExecutor only records the requested action.
type loggingExecutor struct{}

// NewLoggingExecutor creates a ControlExecutor that logs every action.
func NewLoggingExecutor() ControlExecutor {
	return loggingExecutor{}
}

// Execute implements ControlExecutor.
func (loggingExecutor) Execute(ctx context.Context, record *model.NTNControlRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.NorthboundLog.Infof("execute control ueId=%s action=%s priority=%d parameters=%+v",
		record.UEID, record.ActionType, record.Priority, record.Parameters)
	return nil
}
