// Package i18n 提供聊天接口面向用户文案的多语言查找
// 每种语言一张静态表，缺失时先回退英文，再回退到 key 本身
package i18n

import (
	"golang.org/x/text/language"
)

// 支持的语言
const (
	LocaleEnglish  = "en"
	LocaleSpanish  = "es"
	LocaleFilipino = "fil"
)

// 文案 key
const (
	KeyGreeting          = "chat.greeting"
	KeyFallbackConfig    = "chat.fallback.not_configured"
	KeyFallbackUpstream  = "chat.fallback.upstream"
	KeyFallbackEmpty     = "chat.fallback.empty"
	KeyErrSessionID      = "error.session_id_required"
	KeyErrMessage        = "error.message_required"
	KeyErrMessageTooLong = "error.message_too_long"
	KeyErrInvalidToken   = "error.invalid_session_token"
	KeyErrSessionClosed  = "error.session_closed"
	KeyErrCreateSession  = "error.create_session"
	KeyErrStoreMessage   = "error.store_message"
)

var tables = map[string]map[string]string{
	LocaleEnglish: {
		KeyGreeting:          "Hello! 👋 I'm your Cielo Vista apartment assistant. How can I help you today? I can answer questions about availability, pricing, bookings, apartment rules, maintenance, and more.",
		KeyFallbackConfig:    "I'm experiencing technical difficulties. Please contact our support team.",
		KeyFallbackUpstream:  "I'm experiencing technical difficulties. Please contact our support team at support@cielovista.com or call (555) 123-4567.",
		KeyFallbackEmpty:     "I'm unable to generate a response. Please try again or contact our support team.",
		KeyErrSessionID:      "Session ID is required",
		KeyErrMessage:        "Message is required",
		KeyErrMessageTooLong: "Message is too long",
		KeyErrInvalidToken:   "Session token is invalid or expired",
		KeyErrSessionClosed:  "This chat session has been closed",
		KeyErrCreateSession:  "Failed to create chat session",
		KeyErrStoreMessage:   "Failed to save message",
	},
	LocaleSpanish: {
		KeyGreeting:          "¡Hola! 👋 Soy tu asistente de apartamentos Cielo Vista. ¿En qué puedo ayudarte hoy? Puedo responder preguntas sobre disponibilidad, precios, reservas, reglas del apartamento, mantenimiento y más.",
		KeyFallbackConfig:    "Estoy teniendo dificultades técnicas. Por favor, contacta a nuestro equipo de soporte.",
		KeyFallbackUpstream:  "Estoy teniendo dificultades técnicas. Por favor, contacta a nuestro equipo de soporte en support@cielovista.com o llama al (555) 123-4567.",
		KeyFallbackEmpty:     "No puedo generar una respuesta. Inténtalo de nuevo o contacta a nuestro equipo de soporte.",
		KeyErrSessionID:      "Se requiere el ID de sesión",
		KeyErrMessage:        "Se requiere un mensaje",
		KeyErrMessageTooLong: "El mensaje es demasiado largo",
		KeyErrInvalidToken:   "El token de sesión no es válido o ha caducado",
		KeyErrSessionClosed:  "Esta sesión de chat ha sido cerrada",
	},
	LocaleFilipino: {
		KeyGreeting:          "Kumusta! 👋 Ako ang iyong Cielo Vista apartment assistant. Paano kita matutulungan ngayon? Maaari akong sumagot tungkol sa availability, presyo, booking, patakaran ng apartment, maintenance, at iba pa.",
		KeyFallbackConfig:    "Nagkakaroon ako ng teknikal na problema. Mangyaring makipag-ugnayan sa aming support team.",
		KeyFallbackUpstream:  "Nagkakaroon ako ng teknikal na problema. Mangyaring makipag-ugnayan sa aming support team sa support@cielovista.com o tumawag sa (555) 123-4567.",
		KeyFallbackEmpty:     "Hindi ako makabuo ng sagot. Pakisubukang muli o makipag-ugnayan sa aming support team.",
		KeyErrSessionID:      "Kailangan ang session ID",
		KeyErrMessage:        "Kailangan ang mensahe",
	},
}

// 顺序决定匹配优先级，第一个为默认语言
var supported = []language.Tag{
	language.English,
	language.Spanish,
	language.Filipino,
}

var supportedLocales = []string{LocaleEnglish, LocaleSpanish, LocaleFilipino}

var matcher = language.NewMatcher(supported)

// Match 将客户端给出的语言标识（body 字段或 Accept-Language）匹配到支持的语言
// 无法解析或不支持时返回英文
func Match(preferences ...string) string {
	var tags []language.Tag
	for _, pref := range preferences {
		if pref == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(pref)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return LocaleEnglish
	}

	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return LocaleEnglish
	}
	return supportedLocales[index]
}

// T 查找文案
func T(locale, key string) string {
	if table, ok := tables[locale]; ok {
		if text, ok := table[key]; ok {
			return text
		}
	}
	if text, ok := tables[LocaleEnglish][key]; ok {
		return text
	}
	return key
}
