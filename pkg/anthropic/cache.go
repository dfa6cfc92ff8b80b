package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// cacheTTL is the breakpoint lifetime requested on cached system blocks.
// One hour comfortably outlives a batch fan-out.
const cacheTTL = "1h"

// BuildCachedSystemBlocks wraps text in a single system block carrying a
// cache breakpoint. Requests that share the block text pay for its tokens
// once and read the warm copy afterwards.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	block := SystemBlock{
		Text:         text,
		CacheControl: &CacheControl{TTL: cacheTTL},
	}
	return []SystemBlock{block}
}

// PrimerRequest issues req once so its cached system blocks are written
// before a concurrent fan-out starts. The response only matters for usage
// accounting.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
