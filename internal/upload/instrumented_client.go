package upload

import (
	"context"

	"github.com/italolelis/creative_uploader/internal/telemetry"
)

// InstrumentedTransferClient wraps a TransferClient with telemetry.
type InstrumentedTransferClient struct {
	client     TransferClient
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedTransferClient creates a new instrumented transfer client.
func NewInstrumentedTransferClient(client TransferClient, tel *telemetry.Telemetry, clientType string) *InstrumentedTransferClient {
	return &InstrumentedTransferClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Start registers a new upload session with telemetry.
func (c *InstrumentedTransferClient) Start(ctx context.Context, totalSize int64) (StartResult, error) {
	var result StartResult

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "start", func(ctx context.Context) error {
		result, err = c.client.Start(ctx, totalSize)

		return err
	})

	if instrumentedErr != nil {
		return StartResult{}, instrumentedErr
	}

	return result, nil
}

// PushChunk transmits one byte range with telemetry.
func (c *InstrumentedTransferClient) PushChunk(ctx context.Context, sessionID string, startOffset int64, data []byte) (ChunkResult, error) {
	var result ChunkResult

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "transfer", func(ctx context.Context) error {
		result, err = c.client.PushChunk(ctx, sessionID, startOffset, data)

		return err
	})

	if instrumentedErr != nil {
		c.telemetry.RecordChunk("error", int64(len(data)))

		return ChunkResult{}, instrumentedErr
	}

	c.telemetry.RecordChunk("success", int64(len(data)))

	return result, nil
}

// Finish finalizes a session with telemetry.
func (c *InstrumentedTransferClient) Finish(ctx context.Context, sessionID string) (string, error) {
	var result string

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "finish", func(ctx context.Context) error {
		result, err = c.client.Finish(ctx, sessionID)

		return err
	})

	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return result, nil
}
