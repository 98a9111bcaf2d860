// Package http 定价服务的 HTTP 接口.
package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mcvol/internal/pricing/application"
	"github.com/wyfcoding/mcvol/response"
	"github.com/wyfcoding/mcvol/xerrors"
)

// 输出精度
const (
	premiumPlaces    = 6
	volatilityPlaces = 8
	percentPlaces    = 4
)

// Service 处理器依赖的应用层能力.
type Service interface {
	EstimatePremium(ctx context.Context, cmd application.EstimatePremiumCommand) (*application.PremiumDTO, error)
	Calibrate(ctx context.Context, cmd application.CalibrateCommand) (*application.CalibrationDTO, error)
	BatchCalibrate(ctx context.Context, cmd application.BatchCalibrateCommand) ([]application.BatchItemDTO, error)
}

// PricingHandler 定价 HTTP 处理器
type PricingHandler struct {
	svc Service
}

// NewPricingHandler 创建处理器
func NewPricingHandler(svc Service) *PricingHandler {
	return &PricingHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *PricingHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/pricing")
	{
		api.POST("/premium", h.EstimatePremium)
		api.POST("/implied-volatility", h.ImpliedVolatility)
		api.POST("/implied-volatility/batch", h.BatchImpliedVolatility)
	}
}

// PremiumRequest 权利金估算请求
type PremiumRequest struct {
	TimeToMaturity float64         `json:"time_to_maturity" binding:"required"`
	Spot           decimal.Decimal `json:"spot"`
	Strike         decimal.Decimal `json:"strike"`
	RiskFreeRate   float64         `json:"risk_free_rate"`
	Volatility     float64         `json:"volatility"`
}

// PremiumResponse 权利金估算响应
type PremiumResponse struct {
	Call          decimal.Decimal `json:"call"`
	Put           decimal.Decimal `json:"put"`
	ReferenceCall decimal.Decimal `json:"reference_call"`
	ReferencePut  decimal.Decimal `json:"reference_put"`
}

// QuoteRequest 隐含波动率请求. 字段合法性由应用层校验，批量请求中逐项报错.
type QuoteRequest struct {
	TimeToMaturity float64         `json:"time_to_maturity"`
	Spot           decimal.Decimal `json:"spot"`
	Strike         decimal.Decimal `json:"strike"`
	RiskFreeRate   float64         `json:"risk_free_rate"`
	OptionType     string          `json:"option_type"`
	Premium        decimal.Decimal `json:"premium"`
	Tolerance      float64         `json:"tolerance"`
}

func (q QuoteRequest) command() application.CalibrateCommand {
	return application.CalibrateCommand{
		TimeToMaturity: q.TimeToMaturity,
		Spot:           q.Spot.InexactFloat64(),
		Strike:         q.Strike.InexactFloat64(),
		RiskFreeRate:   q.RiskFreeRate,
		OptionType:     q.OptionType,
		Premium:        q.Premium.InexactFloat64(),
		Tolerance:      q.Tolerance,
	}
}

// BatchRequest 批量隐含波动率请求
type BatchRequest struct {
	Quotes []QuoteRequest `json:"quotes" binding:"required"`
}

// CalibrationResponse 隐含波动率响应
type CalibrationResponse struct {
	Volatility    decimal.Decimal `json:"volatility"`
	VolatilityPct decimal.Decimal `json:"volatility_pct"`
	Low           decimal.Decimal `json:"low"`
	High          decimal.Decimal `json:"high"`
	Iterations    int             `json:"iterations"`
	Exact         bool            `json:"exact"`
	PinnedToBound bool            `json:"pinned_to_bound"`

	// ReferenceVolatility 闭式模型反解的隐含波动率
	ReferenceVolatility decimal.Decimal `json:"reference_volatility"`
}

// BatchItemResponse 批量结果中的单项
type BatchItemResponse struct {
	Index  int                  `json:"index"`
	Result *CalibrationResponse `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func round(x float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat(x).Round(places)
}

func toCalibrationResponse(dto *application.CalibrationDTO) *CalibrationResponse {
	return &CalibrationResponse{
		Volatility:    round(dto.Volatility, volatilityPlaces),
		VolatilityPct: round(dto.VolatilityPct, percentPlaces),
		Low:           round(dto.Low, volatilityPlaces),
		High:          round(dto.High, volatilityPlaces),
		Iterations:    dto.Iterations,
		Exact:         dto.Exact,
		PinnedToBound: dto.PinnedToBound,

		ReferenceVolatility: round(dto.ReferenceVolatility, volatilityPlaces),
	}
}

// bind 解析请求体，失败时返回 400.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, xerrors.ErrInvalidInput.WithDetail("%s", err.Error()))
		return false
	}
	return true
}

// EstimatePremium 估算权利金
func (h *PricingHandler) EstimatePremium(c *gin.Context) {
	var req PremiumRequest
	if !bind(c, &req) {
		return
	}

	dto, err := h.svc.EstimatePremium(c.Request.Context(), application.EstimatePremiumCommand{
		TimeToMaturity: req.TimeToMaturity,
		Spot:           req.Spot.InexactFloat64(),
		Strike:         req.Strike.InexactFloat64(),
		RiskFreeRate:   req.RiskFreeRate,
		Volatility:     req.Volatility,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, PremiumResponse{
		Call:          round(dto.Call, premiumPlaces),
		Put:           round(dto.Put, premiumPlaces),
		ReferenceCall: round(dto.ReferenceCall, premiumPlaces),
		ReferencePut:  round(dto.ReferencePut, premiumPlaces),
	})
}

// ImpliedVolatility 反解隐含波动率
func (h *PricingHandler) ImpliedVolatility(c *gin.Context) {
	var req QuoteRequest
	if !bind(c, &req) {
		return
	}

	dto, err := h.svc.Calibrate(c.Request.Context(), req.command())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toCalibrationResponse(dto))
}

// BatchImpliedVolatility 批量反解期权链的隐含波动率
func (h *PricingHandler) BatchImpliedVolatility(c *gin.Context) {
	var req BatchRequest
	if !bind(c, &req) {
		return
	}

	cmd := application.BatchCalibrateCommand{Quotes: make([]application.CalibrateCommand, len(req.Quotes))}
	for i, q := range req.Quotes {
		cmd.Quotes[i] = q.command()
	}

	items, err := h.svc.BatchCalibrate(c.Request.Context(), cmd)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]BatchItemResponse, len(items))
	for i, item := range items {
		out[i] = BatchItemResponse{Index: item.Index, Error: item.Error}
		if item.Result != nil {
			out[i].Result = toCalibrationResponse(item.Result)
		}
	}
	response.Success(c, gin.H{"items": out})
}
