package levtoken

import (
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"levmarket/fixedpoint"
	nativecommon "levmarket/native/common"
)

// RiskParameters is the mutable slice of a token's configuration. All
// fields are wad-scaled fractions or ratios except MaxRebalancingNotional,
// which is an underlying amount.
type RiskParameters struct {
	FeeRate                *uint256.Int
	MinLeverageRatio       *uint256.Int
	MaxLeverageRatio       *uint256.Int
	RebalancingStep        *uint256.Int
	MaxRebalancingNotional *uint256.Int
}

// Register creates a leveraged token and binds its collaborators. Only
// authorized operators may register; registration is permanent.
func (e *Engine) Register(caller gethcommon.Address, meta *TokenMetadata, oracle PriceOracle, venue SwapVenue) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, caller); err != nil {
		return err
	}
	if meta == nil {
		return ErrInvalidConfig
	}
	meta = meta.Clone()
	meta.EnsureDefaults()
	if err := validateRegistration(meta); err != nil {
		return err
	}
	existing, err := e.state.GetToken(meta.Token)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyRegistered
	}
	meta.TotalCollateral = new(uint256.Int)
	meta.TotalPendingFees = new(uint256.Int)
	meta.PartialRebalancePending = false
	meta.LastRebalance = 0
	if err := e.state.PutToken(meta); err != nil {
		return err
	}
	e.BindCollaborators(meta.Token, oracle, venue)
	if e.logger != nil {
		e.logger.Info("registered leveraged token",
			"token", meta.Token.Hex(),
			"collateral", meta.Collateral.Hex(),
			"initialPrice", meta.InitialPrice.String(),
		)
	}
	return nil
}

// SetParameters updates a token's risk parameters. Nil fields are left
// unchanged; the combined result must still validate.
func (e *Engine) SetParameters(caller, token gethcommon.Address, params RiskParameters) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, caller); err != nil {
		return err
	}
	meta, err := e.token(token)
	if err != nil {
		return err
	}
	if params.FeeRate != nil {
		meta.FeeRate = new(uint256.Int).Set(params.FeeRate)
	}
	if params.MinLeverageRatio != nil {
		meta.MinLeverageRatio = new(uint256.Int).Set(params.MinLeverageRatio)
	}
	if params.MaxLeverageRatio != nil {
		meta.MaxLeverageRatio = new(uint256.Int).Set(params.MaxLeverageRatio)
	}
	if params.RebalancingStep != nil {
		meta.RebalancingStep = new(uint256.Int).Set(params.RebalancingStep)
	}
	if params.MaxRebalancingNotional != nil {
		meta.MaxRebalancingNotional = new(uint256.Int).Set(params.MaxRebalancingNotional)
	}
	if err := validateRegistration(meta); err != nil {
		return err
	}
	return e.state.PutToken(meta)
}

// CollectFees releases a token's accumulated creation and redemption fees
// to the operator. The collected collateral amount is returned.
func (e *Engine) CollectFees(caller, token gethcommon.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := nativecommon.Authorize(e.auth, caller); err != nil {
		return nil, err
	}
	meta, err := e.token(token)
	if err != nil {
		return nil, err
	}
	collected := fixedpoint.Clone(meta.TotalPendingFees)
	if collected.IsZero() {
		return collected, nil
	}
	meta.TotalCollateral, err = fixedpoint.Sub(meta.TotalCollateral, collected)
	if err != nil {
		return nil, err
	}
	meta.TotalPendingFees = new(uint256.Int)
	if err := e.state.PutToken(meta); err != nil {
		return nil, err
	}
	if e.logger != nil {
		e.logger.Info("collected token fees",
			"token", meta.Token.Hex(),
			"amount", collected.String(),
		)
	}
	return collected, nil
}

// Tokens lists the registered leveraged-token identities.
func (e *Engine) Tokens() ([]gethcommon.Address, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.ListTokens()
}

func validateRegistration(meta *TokenMetadata) error {
	if meta.Token == (gethcommon.Address{}) || meta.Collateral == (gethcommon.Address{}) {
		return ErrInvalidConfig
	}
	if meta.InitialPrice.IsZero() {
		return ErrInvalidConfig
	}
	if !meta.FeeRate.Lt(fixedpoint.Wad) {
		return ErrInvalidConfig
	}
	// The band must sit strictly above 1x and contain the 2x target.
	if !meta.MinLeverageRatio.Gt(fixedpoint.Wad) {
		return ErrInvalidConfig
	}
	if !meta.MaxLeverageRatio.Gt(meta.MinLeverageRatio) {
		return ErrInvalidConfig
	}
	if meta.RebalancingStep.IsZero() || meta.RebalancingStep.Gt(fixedpoint.Wad) {
		return ErrInvalidConfig
	}
	return nil
}
