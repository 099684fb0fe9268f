package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	xerrors "AgentHub/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail 输出 {"detail": msg} 形式的错误体。
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeError(w http.ResponseWriter, err error) {
	writeDetail(w, xerrors.HTTPStatus(err), xerrors.MessageOf(err))
}

// decode 解析请求体；空请求体视为缺省值。
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体不是合法 JSON")
	}
	return nil
}
