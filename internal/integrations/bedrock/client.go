package bedrock

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/smithy-go"

	"flowops/internal/agent"
)

// agentRuntimeAPI is the subset of *bedrockagentruntime.Client used here.
type agentRuntimeAPI interface {
	InvokeAgent(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
}

// responseStream is satisfied by *bedrockagentruntime.InvokeAgentEventStream.
type responseStream interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// Client invokes managed agents through the Bedrock Agent Runtime.
type Client struct {
	open func(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput) (responseStream, error)
}

var _ agent.Invoker = (*Client)(nil)

func New(api agentRuntimeAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("bedrock: api must not be nil")
	}
	return &Client{
		open: func(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput) (responseStream, error) {
			out, err := api.InvokeAgent(ctx, in)
			if err != nil {
				return nil, err
			}
			if out == nil || out.GetStream() == nil {
				return nil, errors.New("bedrock: response has no event stream")
			}
			return out.GetStream(), nil
		},
	}, nil
}

// Invoke starts the agent call when iteration begins and yields completion
// chunks in the order the stream delivers them. Non-chunk events such as
// traces are skipped. The stream is closed when iteration stops.
func (c *Client) Invoke(ctx context.Context, in agent.InvokeInput) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		stream, err := c.open(ctx, &bedrockagentruntime.InvokeAgentInput{
			AgentId:      aws.String(in.AgentID),
			AgentAliasId: aws.String(in.AgentAliasID),
			SessionId:    aws.String(in.SessionID),
			InputText:    aws.String(in.InputText),
			EnableTrace:  aws.Bool(in.EnableTrace),
		})
		if err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				err = fmt.Errorf("bedrock: InvokeAgent %s: %w", apiErr.ErrorCode(), err)
			} else {
				err = fmt.Errorf("bedrock: InvokeAgent: %w", err)
			}
			yield(nil, err)
			return
		}
		defer stream.Close()

		events := stream.Events()
		for {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case ev, ok := <-events:
				if !ok {
					if err := stream.Err(); err != nil {
						yield(nil, fmt.Errorf("bedrock: read stream: %w", err))
					}
					return
				}
				chunk, isChunk := ev.(*types.ResponseStreamMemberChunk)
				if !isChunk || len(chunk.Value.Bytes) == 0 {
					continue
				}
				if !yield(chunk.Value.Bytes, nil) {
					return
				}
			}
		}
	}
}
