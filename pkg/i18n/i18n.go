// Package i18n holds the translatable log and status strings.
package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangHI Language = "hi"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBDisabled         string
	APIServerError     string
	MetricsInit        string
	InstanceIdentified string

	// Sessions
	SessionSweeperStarted string
	SessionsClosed        string

	// Brokers
	BrokerConnected    string
	BrokerLoginFailed  string
	BrokerDisconnected string

	// Risk
	RiskConfigLoaded     string
	RiskConfigLoadFailed string
	RiskRejected         string
	DailyLossLimitHit    string

	// AI
	GeminiConfigured    string
	GeminiNotConfigured string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting ChartVision gateway...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBDisabled:         "Persistence disabled, signal audit and risk metrics will not survive restart",
	APIServerError:     "API server error: %v",
	MetricsInit:        "System metrics initialized",
	InstanceIdentified: "Instance ID: %s",

	// Sessions
	SessionSweeperStarted: "Session sweeper started (interval: %v)",
	SessionsClosed:        "All sessions closed",

	// Brokers
	BrokerConnected:    "Broker %s connected for session %s",
	BrokerLoginFailed:  "Broker %s login failed: %v",
	BrokerDisconnected: "Broker disconnected for session %s",

	// Risk
	RiskConfigLoaded:     "Risk limits loaded: daily loss cap ₹%.0f",
	RiskConfigLoadFailed: "Failed to load risk config, using defaults: %v",
	RiskRejected:         "Risk rejected: %s",
	DailyLossLimitHit:    "Daily loss limit hit: ₹%.2f",

	// AI
	GeminiConfigured:    "Gemini configured, model=%s",
	GeminiNotConfigured: "GEMINI_API_KEY not set, analysis available after runtime configuration",
}

// Hindi messages
var messagesHI = Messages{
	// System
	Starting:           "ChartVision gateway शुरू हो रहा है...",
	ConfigLoaded:       "कॉन्फ़िग लोड हुआ (पोर्ट: %s)",
	UsingDBPath:        "DB पथ: %s",
	ServerListening:    "सर्वर :%s पर सुन रहा है",
	ShuttingDown:       "सुरक्षित रूप से बंद हो रहा है...",
	ConfigLoadFailed:   "कॉन्फ़िग लोड विफल: %v",
	DBInitFailed:       "डेटाबेस init विफल: %v",
	DBDisabled:         "persistence बंद है, signal audit और risk metrics restart के बाद नहीं रहेंगे",
	APIServerError:     "API सर्वर त्रुटि: %v",
	MetricsInit:        "सिस्टम metrics तैयार",
	InstanceIdentified: "Instance ID: %s",

	// Sessions
	SessionSweeperStarted: "Session sweeper शुरू (अंतराल: %v)",
	SessionsClosed:        "सभी sessions बंद",

	// Brokers
	BrokerConnected:    "Broker %s जुड़ा, session %s",
	BrokerLoginFailed:  "Broker %s लॉगिन विफल: %v",
	BrokerDisconnected: "Session %s का broker डिस्कनेक्ट",

	// Risk
	RiskConfigLoaded:     "Risk सीमाएँ लोड: दैनिक हानि सीमा ₹%.0f",
	RiskConfigLoadFailed: "Risk कॉन्फ़िग लोड विफल, डिफ़ॉल्ट उपयोग में: %v",
	RiskRejected:         "Risk अस्वीकृत: %s",
	DailyLossLimitHit:    "दैनिक हानि सीमा पार: ₹%.2f",

	// AI
	GeminiConfigured:    "Gemini कॉन्फ़िगर हुआ, model=%s",
	GeminiNotConfigured: "GEMINI_API_KEY सेट नहीं, विश्लेषण runtime कॉन्फ़िगरेशन के बाद उपलब्ध",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangHI:
		messages = &messagesHI
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
