package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
)

// The ML endpoints are passed through untyped; their payloads are owned by
// the prediction service and change with each model.

// MLModels lists the trained models.
func (c *Client) MLModels(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.Request(ctx, MLModels, RequestOptions{})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Predict requests a price prediction.
func (c *Client) Predict(ctx context.Context, req any) (json.RawMessage, error) {
	resp, err := c.Request(ctx, MLPredict, RequestOptions{Method: http.MethodPost, Data: req})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// TrainModel starts a training job.
func (c *Client) TrainModel(ctx context.Context, req any) (json.RawMessage, error) {
	resp, err := c.Request(ctx, MLTrain, RequestOptions{Method: http.MethodPost, Data: req})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
