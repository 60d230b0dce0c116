// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON はリクエストボディをdstにデコードし、structタグで検証する。
// 失敗時はVALIDATION_FAILEDのAPIErrorを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return model.NewValidationError("request body must be valid JSON")
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError はvalidatorのエラーを最初の不正フィールドを示すAPIErrorに変換する。
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewValidationError(err.Error())
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return model.NewValidationError(fmt.Sprintf("%s is required", field))
	case "email":
		return model.NewValidationError(fmt.Sprintf("%s must be a valid email address", field))
	case "oneof":
		return model.NewValidationError(fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
	case "min", "max", "gte", "lte":
		return model.NewValidationError(fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
	}
	return model.NewValidationError(fmt.Sprintf("%s is invalid", field))
}

// tokenOf はセッションミドルウェアが注入したトークンを返す。
func tokenOf(r *http.Request) string {
	return middleware.TokenFromContext(r.Context())
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeQueryResult はクエリ結果を返す。
// クエリは未認証・権限不足・対象なしをnilで表すため、その場合はnullボディの200を返す。
func writeQueryResult[T any](w http.ResponseWriter, v *T, convert func(*T) any) {
	if v == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, convert(v))
}

// writeNoContent は204を返す。
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// queryStatus はクエリパラメータのstatusを型付きで取り出す。未指定の場合はnil。
func queryStatus[S ~string](r *http.Request, valid func(S) bool) (*S, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}
	s := S(raw)
	if !valid(s) {
		return nil, model.NewValidationError(fmt.Sprintf("unknown status %q", raw))
	}
	return &s, nil
}

// queryInt はクエリパラメータを整数として取り出す。未指定の場合はdef。
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.NewValidationError(fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return n, nil
}
