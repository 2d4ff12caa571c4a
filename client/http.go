package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx response from the node.
type APIError struct {
	Method  string // Method is the request method
	Path    string // Path is the request path
	Status  int    // Status is the HTTP status code
	Message string // Message is the node's error message
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// getJSON performs a GET request and decodes the JSON response.
func (c *Client) getJSON(path string, result any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	return decodeResponse(resp, "GET", path, result)
}

// getRaw performs a GET request and returns the body.
func (c *Client) getRaw(path string) ([]byte, error) {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s:\n%w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "GET", path); err != nil {
		return nil, err
	}

	return io.ReadAll(resp.Body)
}

// postJSON performs a POST request with a JSON body and decodes the JSON response.
func (c *Client) postJSON(path string, body any, result any) error {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	return decodeResponse(resp, "POST", path, result)
}

// decodeResponse checks the status and decodes the body into result.
func decodeResponse(resp *http.Response, method, path string, result any) error {
	if err := checkStatus(resp, method, path); err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s %s: decode response:\n%w", method, path, err)
	}

	return nil
}

// checkStatus turns a non-2xx response into an *APIError.
func checkStatus(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)

	return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: body.Error}
}
