package falapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// GetAccountBalance returns the remaining account balance in USD.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.billingURL, nil)
	if err != nil {
		c.logger.Error("API account balance fetch failed", zap.Error(err))
		return 0, err
	}

	// 余额接口直接返回一个 JSON 数字
	var balance float64
	if err := json.Unmarshal(body, &balance); err != nil {
		c.logger.Error("failed to unmarshal account balance response into float64", zap.Error(err), zap.String("body", string(body)))
		return 0, fmt.Errorf("failed to unmarshal account balance response into float64: %w, body: %s", err, string(body))
	}
	return balance, nil
}
