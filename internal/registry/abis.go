package registry

// ABI fragments for the leverage router and the per-family lending
// instruction surfaces. Instruction params are packed against these.
//
// Every amount parameter travels as a (uint256 amount, uint8 amountSlot)
// pair: slot 255 tells the router to use the literal amount, any other
// value resolves the virtual output produced at that slot earlier in the
// same execution. The literal is still populated for referenced amounts so
// allowance estimation can run off-chain before outputs exist.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	RouterInstructionsABI = `[
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"spender","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[]},
		{"name":"pullToken","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"from","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[{"name":"pulled","type":"uint256"}]},
		{"name":"pushToken","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[]},
		{"name":"add","type":"function","stateMutability":"pure","inputs":[{"name":"amountA","type":"uint256"},{"name":"slotA","type":"uint8"},{"name":"amountB","type":"uint256"},{"name":"slotB","type":"uint8"}],"outputs":[{"name":"sum","type":"uint256"}]},
		{"name":"flashLoan","type":"function","stateMutability":"nonpayable","inputs":[{"name":"lender","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[]},
		{"name":"materializeOutput","type":"function","stateMutability":"pure","inputs":[{"name":"amount","type":"uint256"}],"outputs":[{"name":"value","type":"uint256"}]},
		{"name":"swap","type":"function","stateMutability":"nonpayable","inputs":[{"name":"sellToken","type":"address"},{"name":"buyToken","type":"address"},{"name":"sellAmount","type":"uint256"},{"name":"sellAmountSlot","type":"uint8"},{"name":"minBuyAmount","type":"uint256"},{"name":"swapTarget","type":"address"},{"name":"swapCallData","type":"bytes"}],"outputs":[{"name":"bought","type":"uint256"}]}
	]`

	// RouterExecuteABI is the router's single entry point: one call runs a
	// full instruction list atomically and returns the virtual output table.
	// Protocol instructions carry the keccak hash of their protocol id so
	// the router can dispatch to the right lending module.
	RouterExecuteABI = `[
		{"name":"run","type":"function","stateMutability":"payable","inputs":[{"name":"instructions","type":"tuple[]","components":[{"name":"kind","type":"uint8"},{"name":"protocolId","type":"bytes32"},{"name":"data","type":"bytes"}]}],"outputs":[{"name":"outputs","type":"uint256[]"}]}
	]`

	StandardPoolInstructionsABI = `[
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"market","type":"bytes"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"market","type":"bytes"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"to","type":"address"}],"outputs":[{"name":"withdrawn","type":"uint256"}]},
		{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"market","type":"bytes"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"onBehalfOf","type":"address"}],"outputs":[{"name":"borrowed","type":"uint256"}]},
		{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"market","type":"bytes"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"onBehalfOf","type":"address"}],"outputs":[{"name":"refund","type":"uint256"}]},
		{"name":"depositCollateral","type":"function","stateMutability":"nonpayable","inputs":[{"name":"market","type":"bytes"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
		{"name":"withdrawCollateral","type":"function","stateMutability":"nonpayable","inputs":[{"name":"market","type":"bytes"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"to","type":"address"}],"outputs":[{"name":"withdrawn","type":"uint256"}]},
		{"name":"getSupplyBalance","type":"function","stateMutability":"view","inputs":[{"name":"market","type":"bytes"},{"name":"asset","type":"address"},{"name":"user","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]}
	]`

	SubAccountVaultInstructionsABI = `[
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrowVault","type":"address"},{"name":"collateralVault","type":"address"},{"name":"subAccount","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrowVault","type":"address"},{"name":"collateralVault","type":"address"},{"name":"subAccount","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[{"name":"withdrawn","type":"uint256"}]},
		{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrowVault","type":"address"},{"name":"collateralVault","type":"address"},{"name":"subAccount","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[{"name":"borrowed","type":"uint256"}]},
		{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrowVault","type":"address"},{"name":"collateralVault","type":"address"},{"name":"subAccount","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[{"name":"refund","type":"uint256"}]},
		{"name":"depositCollateral","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrowVault","type":"address"},{"name":"collateralVault","type":"address"},{"name":"subAccount","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[]},
		{"name":"withdrawCollateral","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrowVault","type":"address"},{"name":"collateralVault","type":"address"},{"name":"subAccount","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"}],"outputs":[{"name":"withdrawn","type":"uint256"}]},
		{"name":"getSupplyBalance","type":"function","stateMutability":"view","inputs":[{"name":"borrowVault","type":"address"},{"name":"collateralVault","type":"address"},{"name":"subAccount","type":"uint8"}],"outputs":[{"name":"balance","type":"uint256"}]}
	]`

	ShareBasedMarketInstructionsABI = `[
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"marketParams","type":"tuple","components":[{"name":"loanToken","type":"address"},{"name":"collateralToken","type":"address"},{"name":"oracle","type":"address"},{"name":"irm","type":"address"},{"name":"lltv","type":"uint256"}]},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"marketParams","type":"tuple","components":[{"name":"loanToken","type":"address"},{"name":"collateralToken","type":"address"},{"name":"oracle","type":"address"},{"name":"irm","type":"address"},{"name":"lltv","type":"uint256"}]},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"receiver","type":"address"}],"outputs":[{"name":"withdrawn","type":"uint256"}]},
		{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"marketParams","type":"tuple","components":[{"name":"loanToken","type":"address"},{"name":"collateralToken","type":"address"},{"name":"oracle","type":"address"},{"name":"irm","type":"address"},{"name":"lltv","type":"uint256"}]},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"receiver","type":"address"}],"outputs":[{"name":"borrowed","type":"uint256"}]},
		{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"marketParams","type":"tuple","components":[{"name":"loanToken","type":"address"},{"name":"collateralToken","type":"address"},{"name":"oracle","type":"address"},{"name":"irm","type":"address"},{"name":"lltv","type":"uint256"}]},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"onBehalfOf","type":"address"}],"outputs":[{"name":"refund","type":"uint256"}]},
		{"name":"depositCollateral","type":"function","stateMutability":"nonpayable","inputs":[{"name":"marketParams","type":"tuple","components":[{"name":"loanToken","type":"address"},{"name":"collateralToken","type":"address"},{"name":"oracle","type":"address"},{"name":"irm","type":"address"},{"name":"lltv","type":"uint256"}]},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
		{"name":"withdrawCollateral","type":"function","stateMutability":"nonpayable","inputs":[{"name":"marketParams","type":"tuple","components":[{"name":"loanToken","type":"address"},{"name":"collateralToken","type":"address"},{"name":"oracle","type":"address"},{"name":"irm","type":"address"},{"name":"lltv","type":"uint256"}]},{"name":"amount","type":"uint256"},{"name":"amountSlot","type":"uint8"},{"name":"receiver","type":"address"}],"outputs":[{"name":"withdrawn","type":"uint256"}]},
		{"name":"getSupplyBalance","type":"function","stateMutability":"view","inputs":[{"name":"marketParams","type":"tuple","components":[{"name":"loanToken","type":"address"},{"name":"collateralToken","type":"address"},{"name":"oracle","type":"address"},{"name":"irm","type":"address"},{"name":"lltv","type":"uint256"}]},{"name":"user","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]}
	]`
)
