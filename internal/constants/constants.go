package constants

// AppName is used in messages, lock files and log paths.
const AppName = "gitchunk"

// Logo is the banner printed by --logo.
const Logo = ` @@@   @@@  @@@@@   @@@@  @   @  @   @  @   @  @   @
@       @     @    @      @   @  @   @  @@  @  @  @
@ @@@   @     @    @      @@@@@  @   @  @ @ @  @@@
@   @   @     @    @      @   @  @   @  @  @@  @  @
 @@@   @@@    @     @@@@  @   @   @@@   @   @  @   @`

// LogoWidth is the width of the widest Logo line.
const LogoWidth = 52

// Tagline is printed centred under the Logo.
const Tagline = "big trees, small pushes"
