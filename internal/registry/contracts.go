package registry

import "strings"

// Flash lender deployments by provider id and chain. Eligibility checks in
// the selector treat a missing entry as "not deployed on this chain".
var flashLendersByProvider = map[string]map[int64]string{
	"morpho": {
		1:    "0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb", // Ethereum
		8453: "0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb", // Base
	},
	"balancer": {
		1:     "0xBA12222222228d8Ba445958a75a0704d566BF2C8", // Ethereum
		10:    "0xBA12222222228d8Ba445958a75a0704d566BF2C8", // Optimism
		137:   "0xBA12222222228d8Ba445958a75a0704d566BF2C8", // Polygon
		8453:  "0xBA12222222228d8Ba445958a75a0704d566BF2C8", // Base
		42161: "0xBA12222222228d8Ba445958a75a0704d566BF2C8", // Arbitrum
	},
	"aave": {
		1:     "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2", // Ethereum
		10:    "0x794a61358D6845594F94dc1DB02A252b5b4814aD", // Optimism
		137:   "0x794a61358D6845594F94dc1DB02A252b5b4814aD", // Polygon
		8453:  "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5", // Base
		42161: "0x794a61358D6845594F94dc1DB02A252b5b4814aD", // Arbitrum
	},
}

func FlashLender(provider string, chainID int64) (string, bool) {
	lenders, ok := flashLendersByProvider[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return "", false
	}
	addr, ok := lenders[chainID]
	return addr, ok
}

// Leverage router deployments. The router executes instruction lists and
// owns the virtual output table; one CREATE2 deployment shares the address
// across chains.
var leverageRouterByChainID = map[int64]string{
	1:     "0x52e3f8c1a9b24de0861c8f3a5b7e9d10f4a6c2b8",
	10:    "0x52e3f8c1a9b24de0861c8f3a5b7e9d10f4a6c2b8",
	137:   "0x52e3f8c1a9b24de0861c8f3a5b7e9d10f4a6c2b8",
	8453:  "0x52e3f8c1a9b24de0861c8f3a5b7e9d10f4a6c2b8",
	42161: "0x52e3f8c1a9b24de0861c8f3a5b7e9d10f4a6c2b8",
}

func LeverageRouter(chainID int64) (string, bool) {
	value, ok := leverageRouterByChainID[chainID]
	return value, ok
}

// Order settlement contracts for progressive execution. The settlement
// harness fills chunks against resting orders and prepends the two fixed
// outputs (actual sold, actual bought) each iteration consumes.
var settlementContractByChainID = map[int64]string{
	1:     "0x9d4ac7e25b31f80c6a2e91d05c8b7f3e642a1d97",
	10:    "0x9d4ac7e25b31f80c6a2e91d05c8b7f3e642a1d97",
	137:   "0x9d4ac7e25b31f80c6a2e91d05c8b7f3e642a1d97",
	8453:  "0x9d4ac7e25b31f80c6a2e91d05c8b7f3e642a1d97",
	42161: "0x9d4ac7e25b31f80c6a2e91d05c8b7f3e642a1d97",
}

func SettlementContract(chainID int64) (string, bool) {
	value, ok := settlementContractByChainID[chainID]
	return value, ok
}
