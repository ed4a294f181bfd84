package router

import (
	"fmt"

	"tgsbot/internal/convert"
	"tgsbot/internal/storage"
	"tgsbot/pkg/tgui"
)

const (
	TextAdminRequired = "❌ Admin access required."
	TextBanned        = "❌ You are banned from using this bot."
	TextNotSVG        = "❌ Please send only SVG files.\nMake sure your file has a .svg extension."
	TextInvalidUserID = "❌ Invalid user ID."
	TextBroadcastHelp = "Usage: /broadcast <message>\nYou can also reply to a message with media to broadcast it."
	TextQueueFull     = "❌ Another broadcast is still queued. Try again later."
	TextShuttingDown  = "⏳ The bot is restarting. Please send the file again in a minute."
	TextStorageError  = "❌ Something went wrong, please try again later."
)

func textTooLarge(size, max int64) string {
	return fmt.Sprintf("❌ File too large: %s\nMaximum file size is %s.", convert.FormatMB(size), mbLabel(max))
}

// mbLabel prints whole megabytes without a fraction ("5MB").
func mbLabel(n int64) string {
	if n > 0 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return convert.FormatMB(n)
}

func welcomeText(maxInput int64) tgui.Message {
	return tgui.New().
		Title("🎨", "SVG to TGS Converter Bot").
		Blank().
		Line("Send me SVG files and I'll convert them to TGS format for Telegram stickers!").
		Blank().
		Section("📋 Requirements:").
		Bullets(
			"SVG files only",
			"Exactly 512×512 pixels",
			"Maximum "+mbLabel(maxInput)+" file size",
			"You can send multiple files at once",
		).
		Blank().
		Line("Just send your SVG files and I'll handle the rest! ✨").
		Build()
}

func helpText(maxInput int64) tgui.Message {
	return tgui.New().
		Section("🔧 How to use:").
		Blank().
		Line("1️⃣ Send SVG files (512×512 pixels, max "+mbLabel(maxInput)+")").
		Line("2️⃣ Wait for conversion (I'll show progress)").
		Line("3️⃣ Receive your TGS sticker files!").
		Blank().
		Section("📝 Tips:").
		Bullets(
			"You can send multiple files at once",
			"I process them in batch for efficiency",
			"Files must be exactly 512×512 pixels",
		).
		Blank().
		Line("❓ Having issues? Make sure your SVG is properly formatted!").
		Build()
}

func statsText(st storage.Stats, pending int) tgui.Message {
	return tgui.New().
		Title("📊", "Bot Statistics").
		Blank().
		Line(fmt.Sprintf("👥 Total Users: %d", st.TotalUsers)).
		Line(fmt.Sprintf("✅ Active Users: %d", st.ActiveUsers)).
		Line(fmt.Sprintf("🚫 Banned Users: %d", st.BannedUsers)).
		Line(fmt.Sprintf("🔄 Total Conversions: %d", st.TotalConversions)).
		Line(fmt.Sprintf("📁 Total Files: %d", st.TotalFiles)).
		Line(fmt.Sprintf("⏳ Pending Batches: %d", pending)).
		Build()
}
