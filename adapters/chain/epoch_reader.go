package chain

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

// SystemStateMethod is the full-node JSON-RPC method that reports the current epoch
const SystemStateMethod = "suix_getLatestSuiSystemState"

type systemState struct {
	Epoch string `json:"epoch"`
}

// RPCEpochReader reads the current epoch from a full node over JSON-RPC
type RPCEpochReader struct {
	client *rpc.Client
}

// DialEpochReader connects to the full node at url
func DialEpochReader(ctx context.Context, url string) (*RPCEpochReader, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial full node: %w", err)
	}
	return &RPCEpochReader{client: client}, nil
}

var _ ports.EpochReader = (*RPCEpochReader)(nil)

// CurrentEpoch returns the latest epoch number
func (r *RPCEpochReader) CurrentEpoch(ctx context.Context) (uint64, error) {
	var state systemState
	if err := r.client.CallContext(ctx, &state, SystemStateMethod); err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrEpochFetch, err)
	}

	epoch, err := strconv.ParseUint(state.Epoch, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad epoch %q", core.ErrEpochFetch, state.Epoch)
	}

	return epoch, nil
}

// Close closes the RPC connection
func (r *RPCEpochReader) Close() {
	r.client.Close()
}
