package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// SonicSerializer implements echo.JSONSerializer on top of sonic.
type SonicSerializer struct{}

// Serialize writes i as JSON to the response.
func (SonicSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

// Deserialize decodes the request body into i. An empty body leaves i
// untouched; anything else must be a complete JSON document.
func (SonicSerializer) Deserialize(c echo.Context, i interface{}) error {
	body, err := readBody(c.Request().Body)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error()).SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := sonic.ConfigStd.Unmarshal(body, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err)).SetInternal(err)
	}
	return nil
}
