// Package docs contains Swagger documentation for the Messaging Bridge API.
//
//	@title						Messaging Bridge API
//	@version					1.0
//	@description				Session core for a third-party messaging network: login, session health, reconnection and realtime fan-out.
//	@contact.name				API Support
//	@contact.email				support@connexto.dev
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//	@host						localhost:8080
//	@BasePath					/bridge/v1
//	@schemes					http https
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
//	@tag.name					sessions
//	@tag.description			Login, status and session-backed network calls
//	@tag.name					realtime
//	@tag.description			Realtime gateway
//	@tag.name					health
//	@tag.description			Liveness
package docs
