package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// MpesaConfig holds Daraja B2C credentials and callback URLs.
type MpesaConfig struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	InitiatorName      string
	SecurityCredential string
	ShortCode          string
	ResultURL          string
	QueueTimeoutURL    string
}

// MpesaB2C submits business payments through the Safaricom Daraja API.
// Results arrive asynchronously at ResultURL and are decoded by ParseB2CResult.
type MpesaB2C struct {
	cfg    MpesaConfig
	client *http.Client
}

func NewMpesaB2C(cfg MpesaConfig, base *http.Client) *MpesaB2C {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	ts := oauth2.ReuseTokenSource(nil, &darajaTokenSource{cfg: cfg, client: base})
	return &MpesaB2C{
		cfg: cfg,
		client: &http.Client{
			Timeout:   base.Timeout,
			Transport: &oauth2.Transport{Source: ts, Base: base.Transport},
		},
	}
}

func (m *MpesaB2C) Name() string { return "mpesa" }

type b2cRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   string `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
	ErrorCode                string `json:"errorCode"`
	ErrorMessage             string `json:"errorMessage"`
}

func (m *MpesaB2C) SendPayout(ctx context.Context, req PayoutRequest) (Ack, error) {
	phone, err := NormalizeMSISDN(req.Phone)
	if err != nil {
		return Ack{}, &RejectedError{Provider: m.Name(), Code: "MSISDN", Description: err.Error()}
	}

	// Daraja accepts whole shillings only.
	amount := req.Amount.Round(0)

	body, err := json.Marshal(b2cRequest{
		OriginatorConversationID: req.Reference,
		InitiatorName:            m.cfg.InitiatorName,
		SecurityCredential:       m.cfg.SecurityCredential,
		CommandID:                "BusinessPayment",
		Amount:                   amount.String(),
		PartyA:                   m.cfg.ShortCode,
		PartyB:                   phone,
		Remarks:                  truncate(req.Remarks, 100),
		QueueTimeOutURL:          m.cfg.QueueTimeoutURL,
		ResultURL:                m.cfg.ResultURL,
		Occasion:                 truncate(req.PayoutID.String(), 100),
	})
	if err != nil {
		return Ack{}, fmt.Errorf("encode b2c request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/mpesa/b2c/v3/paymentrequest", bytes.NewReader(body))
	if err != nil {
		return Ack{}, fmt.Errorf("build b2c request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return Ack{}, callError("send b2c request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Ack{}, fmt.Errorf("read b2c response: %w", err)
	}

	var out b2cResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Ack{}, fmt.Errorf("decode b2c response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 500 {
		return Ack{}, fmt.Errorf("b2c request failed with status %d: %s", resp.StatusCode, out.ErrorMessage)
	}
	if resp.StatusCode >= 400 || out.ResponseCode != "0" {
		code, desc := out.ResponseCode, out.ResponseDescription
		if out.ErrorCode != "" {
			code, desc = out.ErrorCode, out.ErrorMessage
		}
		return Ack{}, &RejectedError{Provider: m.Name(), Code: code, Description: desc}
	}

	return Ack{ConversationID: out.ConversationID}, nil
}

type darajaTokenSource struct {
	cfg    MpesaConfig
	client *http.Client
}

// Token fetches a client-credentials token. Daraja only accepts GET for this grant.
func (s *darajaTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(s.cfg.ConsumerKey, s.cfg.ConsumerSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request daraja token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daraja token request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode daraja token: %w", err)
	}

	ttl, err := strconv.Atoi(payload.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	return &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(ttl) * time.Second),
	}, nil
}

// B2CResult is the body Daraja posts to the result URL.
type B2CResult struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
		ResultParameters         struct {
			ResultParameter []struct {
				Key   string `json:"Key"`
				Value any    `json:"Value"`
			} `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// ParseB2CResult decodes a Daraja result callback into a Callback.
func ParseB2CResult(body []byte) (Callback, error) {
	var res B2CResult
	if err := json.Unmarshal(body, &res); err != nil {
		return Callback{}, fmt.Errorf("decode b2c result: %w", err)
	}
	if res.Result.ConversationID == "" {
		return Callback{}, fmt.Errorf("b2c result missing ConversationID")
	}

	raw := make(map[string]any, len(res.Result.ResultParameters.ResultParameter))
	for _, p := range res.Result.ResultParameters.ResultParameter {
		raw[p.Key] = p.Value
	}

	return Callback{
		ConversationID:           res.Result.ConversationID,
		OriginatorConversationID: res.Result.OriginatorConversationID,
		ProviderTxnID:            res.Result.TransactionID,
		Success:                  res.Result.ResultCode == 0,
		ResultCode:               strconv.Itoa(res.Result.ResultCode),
		ResultDesc:               res.Result.ResultDesc,
		Raw:                      raw,
	}, nil
}

// NormalizeMSISDN converts local Kenyan formats (07XX, +2547XX) to 2547XXXXXXXX.
func NormalizeMSISDN(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	if len(p) != 12 || !strings.HasPrefix(p, "254") {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid phone number %q", phone)
		}
	}
	return p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
