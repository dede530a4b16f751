// Package broker talks to the brokerage OpenAPI. The Client implements the
// Broker interface over REST with a shared access token; MockClient simulates
// the same surface for development, and CachedBroker adds read caching to
// protect the venue's rate limits.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenRefreshMargin renews the access token this long before expiry.
const tokenRefreshMargin = 5 * time.Minute

type Config struct {
	AppKey    string
	AppSecret string
	AccountNo string
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client

	tokenMu     sync.RWMutex
	accessToken string
	tokenExpiry time.Time
	refreshSF   singleflight.Group
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ---- authentication ----

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// token returns a valid access token, refreshing it when it is within the
// renewal margin. Refresh is single-flight: concurrent callers share one
// outbound request.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.RLock()
	token, expiry := c.accessToken, c.tokenExpiry
	c.tokenMu.RUnlock()

	if token != "" && time.Until(expiry) > tokenRefreshMargin {
		return token, nil
	}

	v, err, _ := c.refreshSF.Do("token", func() (interface{}, error) {
		return c.refreshToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}

	c.tokenMu.Lock()
	c.accessToken = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	c.tokenMu.Unlock()

	return tr.AccessToken, nil
}

// doGet performs an authenticated GET with the venue's transaction-id header
// and decodes the response into out.
func (c *Client) doGet(ctx context.Context, path, trID string, params url.Values, out interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	endpoint := c.cfg.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, token, trID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) doPost(ctx context.Context, path, trID string, payload, out interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, token, trID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token, trID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("tr_id", trID)
}

// ---- market data ----

type priceResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output struct {
		Price      string `json:"stck_prpr"`
		Change     string `json:"prdy_vrss"`
		ChangeRate string `json:"prdy_ctrt"`
		Volume     string `json:"acml_vol"`
	} `json:"output"`
}

func (c *Client) GetStockPrice(ctx context.Context, symbol string) (*StockPrice, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", symbol)

	var resp priceResponse
	if err := c.doGet(ctx, "/uapi/domestic-stock/v1/quotations/inquire-price", "FHKST01010100", params, &resp); err != nil {
		return nil, fmt.Errorf("error fetching price for %s: %w", symbol, err)
	}
	if resp.RtCd != "0" {
		return nil, fmt.Errorf("price query for %s rejected: %s", symbol, resp.Msg)
	}

	return &StockPrice{
		Symbol:     symbol,
		Price:      parseInt(resp.Output.Price),
		Change:     parseInt(resp.Output.Change),
		ChangeRate: parseFloat(resp.Output.ChangeRate),
		Volume:     parseInt(resp.Output.Volume),
	}, nil
}

type dailyPriceResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output []struct {
		Date   string `json:"stck_bsop_date"`
		Open   string `json:"stck_oprc"`
		High   string `json:"stck_hgpr"`
		Low    string `json:"stck_lwpr"`
		Close  string `json:"stck_clpr"`
		Volume string `json:"acml_vol"`
	} `json:"output2"`
}

// GetDailyPrices pages backwards through the daily chart endpoint until ~260
// bars are collected; the venue serves at most 100 per call.
func (c *Client) GetDailyPrices(ctx context.Context, symbol string, endDate time.Time) ([]Bar, error) {
	const wantBars = 260

	if endDate.IsZero() {
		endDate = time.Now()
	}
	cursor := endDate

	bars := make([]Bar, 0, wantBars)
	for len(bars) < wantBars {
		params := url.Values{}
		params.Set("FID_COND_MRKT_DIV_CODE", "J")
		params.Set("FID_INPUT_ISCD", symbol)
		params.Set("FID_INPUT_DATE_1", cursor.AddDate(0, -5, 0).Format("20060102"))
		params.Set("FID_INPUT_DATE_2", cursor.Format("20060102"))
		params.Set("FID_PERIOD_DIV_CODE", "D")
		params.Set("FID_ORG_ADJ_PRC", "0")

		var resp dailyPriceResponse
		if err := c.doGet(ctx, "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice", "FHKST03010100", params, &resp); err != nil {
			return nil, fmt.Errorf("error fetching daily prices for %s: %w", symbol, err)
		}
		if resp.RtCd != "0" {
			return nil, fmt.Errorf("daily price query for %s rejected: %s", symbol, resp.Msg)
		}
		if len(resp.Output) == 0 {
			break // listing younger than the requested range
		}

		before := len(bars)
		for _, row := range resp.Output {
			date, err := time.Parse("20060102", row.Date)
			if err != nil {
				continue
			}
			bars = append(bars, Bar{
				Date:   date,
				Open:   parseInt(row.Open),
				High:   parseInt(row.High),
				Low:    parseInt(row.Low),
				Close:  parseInt(row.Close),
				Volume: parseInt(row.Volume),
			})
		}
		if len(bars) == before {
			break // page held no parseable rows; the cursor cannot advance
		}
		// Continue from the day before the oldest bar returned.
		cursor = bars[len(bars)-1].Date.AddDate(0, 0, -1)
	}

	return bars, nil
}

// ---- account ----

type balanceResponse struct {
	RtCd    string `json:"rt_cd"`
	Msg     string `json:"msg1"`
	CtxFK   string `json:"ctx_area_fk100"`
	CtxNK   string `json:"ctx_area_nk100"`
	Output1 []struct {
		Symbol       string `json:"pdno"`
		Company      string `json:"prdt_name"`
		Quantity     string `json:"hldg_qty"`
		AvgBuyPrice  string `json:"pchs_avg_pric"`
		CurrentPrice string `json:"prpr"`
		Evaluation   string `json:"evlu_amt"`
		ProfitLoss   string `json:"evlu_pfls_amt"`
		ProfitRate   string `json:"evlu_pfls_rt"`
	} `json:"output1"`
	Output2 []struct {
		TotalDeposit    string `json:"dnca_tot_amt"`
		AvailableAmount string `json:"prvs_rcdl_excc_amt"`
		TotalPurchase   string `json:"pchs_amt_smtl_amt"`
		TotalEvaluation string `json:"evlu_amt_smtl_amt"`
		TotalProfitLoss string `json:"evlu_pfls_smtl_amt"`
	} `json:"output2"`
}

func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	resp, err := c.inquireBalance(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Output2) == 0 {
		return nil, fmt.Errorf("balance query returned no summary row")
	}

	row := resp.Output2[0]
	bal := &Balance{
		TotalDeposit:    parseInt(row.TotalDeposit),
		AvailableAmount: parseInt(row.AvailableAmount),
		TotalPurchase:   parseInt(row.TotalPurchase),
		TotalEvaluation: parseInt(row.TotalEvaluation),
		TotalProfitLoss: parseInt(row.TotalProfitLoss),
	}
	if bal.TotalPurchase > 0 {
		bal.ProfitRate = float64(bal.TotalProfitLoss) / float64(bal.TotalPurchase) * 100
	}
	return bal, nil
}

func (c *Client) GetHoldings(ctx context.Context) ([]Holding, error) {
	resp, err := c.inquireBalance(ctx)
	if err != nil {
		return nil, err
	}

	holdings := make([]Holding, 0, len(resp.Output1))
	for _, row := range resp.Output1 {
		qty := parseInt(row.Quantity)
		if qty == 0 {
			continue
		}
		holdings = append(holdings, Holding{
			Symbol:       row.Symbol,
			Company:      row.Company,
			Quantity:     qty,
			AvgBuyPrice:  parseInt(row.AvgBuyPrice),
			CurrentPrice: parseInt(row.CurrentPrice),
			Evaluation:   parseInt(row.Evaluation),
			ProfitLoss:   parseInt(row.ProfitLoss),
			ProfitRate:   parseFloat(row.ProfitRate),
		})
	}
	return holdings, nil
}

func (c *Client) inquireBalance(ctx context.Context) (*balanceResponse, error) {
	params := url.Values{}
	params.Set("CANO", c.cfg.AccountNo)
	params.Set("ACNT_PRDT_CD", "01")
	params.Set("AFHR_FLPR_YN", "N")
	params.Set("INQR_DVSN", "02")
	params.Set("UNPR_DVSN", "01")
	params.Set("FUND_STTL_ICLD_YN", "N")
	params.Set("OFL_YN", "")
	params.Set("PRCS_DVSN", "00")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")

	var resp balanceResponse
	if err := c.doGet(ctx, "/uapi/domestic-stock/v1/trading/inquire-balance", "TTTC8434R", params, &resp); err != nil {
		return nil, fmt.Errorf("error fetching balance: %w", err)
	}
	if resp.RtCd != "0" {
		return nil, fmt.Errorf("balance query rejected: %s", resp.Msg)
	}
	return &resp, nil
}

type pnlResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	CtxFK  string `json:"ctx_area_fk100"`
	CtxNK  string `json:"ctx_area_nk100"`
	Output []struct {
		Date       string `json:"trad_dt"`
		Symbol     string `json:"pdno"`
		Company    string `json:"prdt_name"`
		Quantity   string `json:"sll_qty"`
		SellPrice  string `json:"sll_pric"`
		ProfitLoss string `json:"rlzt_pfls"`
		ProfitRate string `json:"pfls_rt"`
	} `json:"output1"`
}

// GetRealizedPnL walks the paginated realised-PnL endpoint using the venue's
// continuation keys until the page set is exhausted. Pagination stays hidden
// from callers.
func (c *Client) GetRealizedPnL(ctx context.Context, start, end time.Time) ([]PnLItem, error) {
	var items []PnLItem
	ctxFK, ctxNK := "", ""

	for {
		params := url.Values{}
		params.Set("CANO", c.cfg.AccountNo)
		params.Set("ACNT_PRDT_CD", "01")
		params.Set("INQR_STRT_DT", start.Format("20060102"))
		params.Set("INQR_END_DT", end.Format("20060102"))
		params.Set("CTX_AREA_FK100", ctxFK)
		params.Set("CTX_AREA_NK100", ctxNK)

		var resp pnlResponse
		if err := c.doGet(ctx, "/uapi/domestic-stock/v1/trading/inquire-period-profit", "TTTC8715R", params, &resp); err != nil {
			return nil, fmt.Errorf("error fetching realized pnl: %w", err)
		}
		if resp.RtCd != "0" {
			return nil, fmt.Errorf("realized pnl query rejected: %s", resp.Msg)
		}

		for _, row := range resp.Output {
			date, err := time.Parse("20060102", row.Date)
			if err != nil {
				continue
			}
			items = append(items, PnLItem{
				Date:       date,
				Symbol:     row.Symbol,
				Company:    row.Company,
				Quantity:   parseInt(row.Quantity),
				SellPrice:  parseInt(row.SellPrice),
				ProfitLoss: parseInt(row.ProfitLoss),
				ProfitRate: parseFloat(row.ProfitRate),
			})
		}

		if resp.CtxNK == "" || len(resp.Output) == 0 {
			return items, nil
		}
		ctxFK, ctxNK = resp.CtxFK, resp.CtxNK
	}
}

// ---- orders ----

type orderResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg    string `json:"msg1"`
	Output struct {
		OrderNo string `json:"ODNO"`
	} `json:"output"`
}

// PlaceOrder submits an order. The venue only accepts priced orders, so a
// market order is converted to a limit order at the current quote.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity, price int64, orderType OrderType) (*OrderResult, error) {
	if quantity <= 0 {
		return &OrderResult{Status: StatusRejected, Message: "quantity must be positive"}, nil
	}

	if orderType == OrderMarket || price == 0 {
		quote, err := c.GetStockPrice(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to quote %s for market order conversion: %w", symbol, err)
		}
		price = quote.Price
	}

	trID := "TTTC0802U" // buy
	if side == SideSell {
		trID = "TTTC0801U"
	}

	payload := map[string]string{
		"CANO":         c.cfg.AccountNo,
		"ACNT_PRDT_CD": "01",
		"PDNO":         symbol,
		"ORD_DVSN":     "00", // limit
		"ORD_QTY":      strconv.FormatInt(quantity, 10),
		"ORD_UNPR":     strconv.FormatInt(price, 10),
	}

	var resp orderResponse
	if err := c.doPost(ctx, "/uapi/domestic-stock/v1/trading/order-cash", trID, payload, &resp); err != nil {
		return nil, fmt.Errorf("order submission failed: %w", err)
	}
	if resp.RtCd != "0" {
		return &OrderResult{Status: StatusRejected, Message: resp.Msg}, nil
	}
	return &OrderResult{Status: StatusSubmitted, OrderNo: resp.Output.OrderNo}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderNo, symbol string, quantity int64) (*OrderResult, error) {
	return c.reviseOrder(ctx, orderNo, symbol, quantity, 0, "02")
}

func (c *Client) ModifyOrder(ctx context.Context, orderNo, symbol string, quantity, price int64) (*OrderResult, error) {
	return c.reviseOrder(ctx, orderNo, symbol, quantity, price, "01")
}

func (c *Client) reviseOrder(ctx context.Context, orderNo, symbol string, quantity, price int64, dvsn string) (*OrderResult, error) {
	payload := map[string]string{
		"CANO":          c.cfg.AccountNo,
		"ACNT_PRDT_CD":  "01",
		"KRX_FWDG_ORD_ORGNO": "",
		"ORGN_ODNO":     orderNo,
		"PDNO":          symbol,
		"ORD_DVSN":      "00",
		"RVSE_CNCL_DVSN_CD": dvsn,
		"ORD_QTY":       strconv.FormatInt(quantity, 10),
		"ORD_UNPR":      strconv.FormatInt(price, 10),
		"QTY_ALL_ORD_YN": "Y",
	}

	var resp orderResponse
	if err := c.doPost(ctx, "/uapi/domestic-stock/v1/trading/order-rvsecncl", "TTTC0803U", payload, &resp); err != nil {
		return nil, fmt.Errorf("order revision failed: %w", err)
	}
	if resp.RtCd != "0" {
		return &OrderResult{Status: StatusRejected, Message: resp.Msg}, nil
	}
	return &OrderResult{Status: StatusSubmitted, OrderNo: resp.Output.OrderNo}, nil
}

// The venue serialises numbers as strings; blanks mean zero.

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
