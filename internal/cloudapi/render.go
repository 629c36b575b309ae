package cloudapi

import (
	"github.com/gin-gonic/gin"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
)

// renderError maps an apperr.Code to the HTTP status and body shape spec §7
// requires: {ok:false, error} for every failure, {ok:false, error} with 500
// for INTERNAL leaving store state untouched (the Mutation Engine already
// guarantees that by aborting the transaction).
func renderError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	c.JSON(apperr.HTTPStatus(code), gin.H{
		"ok":    false,
		"error": apperr.Message(err),
		"code":  string(code),
	})
}
