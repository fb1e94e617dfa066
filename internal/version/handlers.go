package version

import (
	"net/http"

	"github.com/citizenwallet/lazynode/internal/common"
)

// Version is set at build time with -ldflags "-X".
var Version = "0.1.0"

type Service struct{}

func NewService() *Service {
	return &Service{}
}

type response struct {
	Version string `json:"version"`
}

// Current returns the current version of the proxy
func (s *Service) Current(w http.ResponseWriter, r *http.Request) {
	err := common.JSON(w, http.StatusOK, &response{Version: Version})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}
