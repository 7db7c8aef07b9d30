package response

import (
	"errors"
	"net/http"

	"creditsystem/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	CodeSuccess         = 0
	CodeParamError      = 400
	CodeUnauthorized    = 401
	CodeForbidden       = 403
	CodeNotFound        = 404
	CodeTooManyRequests = 429
	CodeServerError     = 500
	CodeBusinessError   = 1000
)

// Business codes are stable; clients switch on them.
const (
	CodeInsufficientFunds      = 1001
	CodeAccountNotFound        = 1002
	CodeAccountFrozen          = 1003
	CodeSelfTransferNotAllowed = 1004
	CodeInvalidAmount          = 1005

	CodeListingNotFound     = 1101
	CodeListingAlreadySold  = 1102
	CodeListingExpired      = 1103
	CodeListingTypeMismatch = 1104
	CodeSelfPurchase        = 1105
	CodeBidTooLow           = 1106
	CodeOfferNotFound       = 1107
	CodeOfferNotPending     = 1108

	CodeItemNotFound      = 1201
	CodeItemNotOwned      = 1202
	CodeItemUnavailable   = 1203
	CodeItemAlreadyListed = 1204

	CodeTradeNotFound           = 1301
	CodeTradeNotPending         = 1302
	CodeTradeExpired            = 1303
	CodeTradePreconditionFailed = 1304

	CodeLoanActive        = 1401
	CodeNoActiveLoan      = 1402
	CodeLoanLimitExceeded = 1403

	// CodeStateChanged is retryable with the same idempotency key.
	CodeStateChanged = 1901
)

var errorCodes = []struct {
	err  error
	code int
}{
	{model.ErrInsufficientFunds, CodeInsufficientFunds},
	{model.ErrAccountNotFound, CodeAccountNotFound},
	{model.ErrAccountFrozen, CodeAccountFrozen},
	{model.ErrSelfTransferNotAllowed, CodeSelfTransferNotAllowed},
	{model.ErrInvalidAmount, CodeInvalidAmount},
	{model.ErrListingNotFound, CodeListingNotFound},
	{model.ErrListingAlreadySold, CodeListingAlreadySold},
	{model.ErrListingExpired, CodeListingExpired},
	{model.ErrListingTypeMismatch, CodeListingTypeMismatch},
	{model.ErrSelfPurchase, CodeSelfPurchase},
	{model.ErrBidTooLow, CodeBidTooLow},
	{model.ErrOfferNotFound, CodeOfferNotFound},
	{model.ErrOfferNotPending, CodeOfferNotPending},
	{model.ErrItemNotFound, CodeItemNotFound},
	{model.ErrItemNotOwned, CodeItemNotOwned},
	{model.ErrItemUnavailable, CodeItemUnavailable},
	{model.ErrItemAlreadyListed, CodeItemAlreadyListed},
	{model.ErrTradeNotFound, CodeTradeNotFound},
	{model.ErrTradeNotPending, CodeTradeNotPending},
	{model.ErrTradeExpired, CodeTradeExpired},
	{model.ErrTradePreconditionFailed, CodeTradePreconditionFailed},
	{model.ErrLoanActive, CodeLoanActive},
	{model.ErrNoActiveLoan, CodeNoActiveLoan},
	{model.ErrLoanLimitExceeded, CodeLoanLimitExceeded},
	{model.ErrStateChanged, CodeStateChanged},
	{model.ErrUnauthorized, CodeForbidden},
	{model.ErrInvalidRequest, CodeParamError},
}

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// CodeOf returns the envelope code for err, CodeServerError if it is not a
// known error kind.
func CodeOf(err error) int {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeServerError
}

// FromError writes err using its business code. Unknown errors are logged
// and reported without internals.
func FromError(c *gin.Context, err error) {
	code := CodeOf(err)
	if code == CodeServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("unhandled error")
		ServerError(c, "internal error")
		return
	}
	Error(c, code, err.Error())
}
