package execution

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
)

// Error(string) selector, the shape require(condition, "reason") reverts
// with.
const errorStringSelector = "0x08c379a0"

var revertReasonArgs = abi.Arguments{{Type: mustABIType("string")}}

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// decodeRevertData renders a revert payload readably: Error(string)
// reverts decode to their reason, anything else keeps its selector so a
// custom error can still be looked up against the contract source.
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return hexutil.Encode(data)
	}
	selector := hexutil.Encode(data[:4])
	if strings.EqualFold(selector, errorStringSelector) && len(data) > 4 {
		values, err := revertReasonArgs.Unpack(data[4:])
		if err == nil && len(values) == 1 {
			if reason, ok := values[0].(string); ok && reason != "" {
				return reason
			}
		}
	}
	return fmt.Sprintf("custom error %s", selector)
}

// decodeRevertFromError extracts and decodes the revert payload an RPC
// error carries, or returns "" when the error has none.
func decodeRevertFromError(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		buf, decodeErr := hexutil.Decode(strings.TrimSpace(data))
		if decodeErr != nil {
			return ""
		}
		return decodeRevertData(buf)
	case []byte:
		return decodeRevertData(data)
	default:
		return ""
	}
}

// wrapEVMExecutionError wraps an RPC failure, surfacing any decoded revert
// reason in the message so the user sees why the node rejected the call.
func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s: %s", message, reason), err)
	}
	return clierr.Wrap(code, message, err)
}
