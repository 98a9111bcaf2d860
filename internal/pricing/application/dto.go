package application

// EstimatePremiumCommand 估算指定波动率下的看涨与看跌权利金.
type EstimatePremiumCommand struct {
	TimeToMaturity float64
	Spot           float64
	Strike         float64
	RiskFreeRate   float64
	Volatility     float64
}

// PremiumDTO 蒙特卡洛估算值与 Black-Scholes 参照值.
type PremiumDTO struct {
	Call          float64 `json:"call"`
	Put           float64 `json:"put"`
	ReferenceCall float64 `json:"reference_call"`
	ReferencePut  float64 `json:"reference_put"`
}

// CalibrateCommand 由观测权利金反解隐含波动率. Tolerance 为 0 时使用配置值.
type CalibrateCommand struct {
	TimeToMaturity float64
	Spot           float64
	Strike         float64
	RiskFreeRate   float64
	OptionType     string
	Premium        float64
	Tolerance      float64
}

// CalibrationDTO 校准结果.
type CalibrationDTO struct {
	Volatility    float64 `json:"volatility"`
	VolatilityPct float64 `json:"volatility_pct"`
	Low           float64 `json:"low"`
	High          float64 `json:"high"`
	Iterations    int     `json:"iterations"`
	Exact         bool    `json:"exact"`
	PinnedToBound bool    `json:"pinned_to_bound"`

	// ReferenceVolatility 闭式 Black–Scholes 反解的隐含波动率，仅供对照
	ReferenceVolatility float64 `json:"reference_volatility"`
}

// BatchCalibrateCommand 期权链批量校准.
type BatchCalibrateCommand struct {
	Quotes []CalibrateCommand
}

// BatchItemDTO 单个报价的校准结果，Result 与 Error 二者其一非空.
type BatchItemDTO struct {
	Index  int             `json:"index"`
	Result *CalibrationDTO `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
