package xerrors

// 定价与校准错误哨兵。使用 WithDetail 派生带详情的副本，哨兵本身不会被修改。
var (
	// ErrInvalidInput 输入格式错误。
	ErrInvalidInput = New(ErrInvalidArg, 400002, "invalid input", "check your input parameters", nil)
	// ErrInvalidOptionType 无效的期权类型。
	ErrInvalidOptionType = New(ErrInvalidArg, 400004, "invalid option type", "supported types: call, put", nil)
	// ErrInvalidConfig 配置错误。
	ErrInvalidConfig = New(ErrInvalidArg, 400005, "invalid config", "", nil)
	// ErrInvalidContract 合约参数不满足前置条件。
	ErrInvalidContract = New(ErrInvalidArg, 400101, "invalid option contract", "", nil)
	// ErrInvalidSimulation 模拟路径数或时间步数非法。
	ErrInvalidSimulation = New(ErrInvalidArg, 400102, "invalid simulation size", "simulations and time steps must be positive", nil)
	// ErrInvalidTolerance 校准容差非法。
	ErrInvalidTolerance = New(ErrInvalidArg, 400103, "invalid tolerance", "tolerance must be positive and finite", nil)
	// ErrInvalidBounds 波动率搜索区间非法。
	ErrInvalidBounds = New(ErrInvalidArg, 400104, "invalid volatility bounds", "require 0 <= low < high", nil)
	// ErrInvalidPremium 观测权利金非法。
	ErrInvalidPremium = New(ErrInvalidArg, 400105, "invalid observed premium", "premium must be finite and non-negative", nil)
	// ErrBatchTooLarge 批量请求超过上限。
	ErrBatchTooLarge = New(ErrLimitExceeded, 429101, "batch too large", "", nil)
	// ErrBusy 服务过载。
	ErrBusy = New(ErrUnavailable, 503101, "service busy", "concurrency limit exceeded", nil)
)
