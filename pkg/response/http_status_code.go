package response

const (
	CodeAuthorized = 1 // Channel authorized

	ErrCodeParamInvalid     = 4003 // Form parameter missing or invalid
	ErrCodeMissingToken     = 4010 // No bearer token
	ErrCodeInvalidToken     = 4011 // Token rejected
	ErrCodeForbiddenChannel = 4030 // Channel belongs to someone else
)

const defaultLocale = "en"

// message per locale
var msg = map[string]map[int]string{
	"en": {
		CodeAuthorized:          "channel authorized",
		ErrCodeParamInvalid:     "socket_id and channel_name are required",
		ErrCodeMissingToken:     "authorization header is required",
		ErrCodeInvalidToken:     "invalid token",
		ErrCodeForbiddenChannel: "you may not subscribe to this channel",
	},
	"fr": {
		CodeAuthorized:          "canal autorisé",
		ErrCodeParamInvalid:     "socket_id et channel_name sont obligatoires",
		ErrCodeMissingToken:     "l'en-tête Authorization est obligatoire",
		ErrCodeInvalidToken:     "jeton invalide",
		ErrCodeForbiddenChannel: "vous ne pouvez pas vous abonner à ce canal",
	},
	"vi": {
		CodeAuthorized:          "kênh đã được cấp quyền",
		ErrCodeParamInvalid:     "socket_id và channel_name là bắt buộc",
		ErrCodeMissingToken:     "thiếu header Authorization",
		ErrCodeInvalidToken:     "token không hợp lệ",
		ErrCodeForbiddenChannel: "bạn không được đăng ký kênh này",
	},
}
