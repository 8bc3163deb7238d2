package resolver

import (
	"github.com/betbot/arena/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultPrecision 价格比较的默认小数位数
const DefaultPrecision = 2

// Resolve 比较基准价与结算价，产出三元结果
// 两个价格先按 precision 位四舍五入（round-half-away-from-zero，标准货币舍入），
// 舍入后相等即为 tie。这是一个封闭的全函数：任何有效价格对恰好产出
// up/down/tie 之一，永不出错。
func Resolve(basePrice, endPrice float64, precision int32) domain.Result {
	base := decimal.NewFromFloat(basePrice).Round(precision)
	end := decimal.NewFromFloat(endPrice).Round(precision)

	switch end.Cmp(base) {
	case 1:
		return domain.ResultUp
	case -1:
		return domain.ResultDown
	default:
		return domain.ResultTie
	}
}
