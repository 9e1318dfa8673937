package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/defecttrend/defecttrend/pkg/types"
	"github.com/defecttrend/defecttrend/pkg/wire"
	"github.com/defecttrend/defecttrend/server/internal/store"
)

// ErrInvalidRecord wraps every validation failure returned by Accept.
var ErrInvalidRecord = errors.New("invalid build record")

// Receiver implements wire.IngestServer.
// It validates each incoming build record and appends it to the job's history.
type Receiver struct {
	store *store.Store
}

// New creates a Receiver that writes accepted builds to st.
func New(st *store.Store) *Receiver {
	return &Receiver{store: st}
}

// Accept validates rec and records it. Validation failures wrap
// ErrInvalidRecord; an out-of-order build wraps store.ErrStaleBuild.
func (r *Receiver) Accept(rec wire.BuildRecord) (*types.HistoryNode, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	snap, err := rec.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	head, err := r.store.Record(rec.Job, rec.Build(), snap)
	if err != nil {
		return nil, err
	}

	slog.Debug("receiver: build recorded",
		"job", rec.Job,
		"build", rec.Number,
		"total", snap.Total(),
	)
	return head, nil
}

// RecordBuild is the unary RPC handler called by defecttrend agents.
// Authentication is enforced by the gRPC server interceptor before this is called.
func (r *Receiver) RecordBuild(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := wire.RecordFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	head, err := r.Accept(rec)
	switch {
	case errors.Is(err, ErrInvalidRecord):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrStaleBuild):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, err.Error())
	}

	e, _ := r.store.Get(rec.Job)
	reply, err := structpb.NewStruct(map[string]interface{}{
		"ok":     true,
		"job":    rec.Job,
		"number": head.Build.Number,
		"builds": e.Builds,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return reply, nil
}
