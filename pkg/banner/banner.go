package banner

import (
	"fmt"
)

const banner = `
██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗
██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝
██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝
██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝
██║     ██║  ██║██║  ██║███████╗███████╗   ██║
╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝
`

// Print shows startup info: listen address, storage path, config source
// and build version.
func Print(addr, dbPath, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:   %s\n", source)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/sessions                - Start a conversation (JSON: character, title, mirror_of)")
	fmt.Println("GET  /v1/sessions                - List your conversations")
	fmt.Println("GET  /v1/sessions/{id}           - Show one conversation")
	fmt.Println("GET  /v1/sessions/{id}/messages  - Replay a conversation")
	fmt.Println("POST /v1/sessions/{id}/turns     - Send a message (JSON: text, nsfw_consent)")
	fmt.Println("GET  /v1/characters/{id}         - Show a character")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/sessions' -d '{\"character\": \"c_luna\"}'\n", addr)
	fmt.Printf("curl -X POST 'http://localhost%s/v1/sessions/s_1/turns' -d '{\"text\": \"hi there\"}'\n", addr)
	fmt.Println("\n== Production? =================================================")
	fmt.Println("Set PARLEY_SIGNING_KEYS so user identities are verified")
	fmt.Println("Point PARLEY_REDIS_ADDR at redis to share the duplicate window across replicas")
}
