package transform

// Raw parameter names that drive the transformation itself.
const (
	FieldEvent            = "event"
	FieldCustomEvents     = "custom_events"
	FieldInstallTimestamp = "install_timestamp"
)

// Kind is the discriminator carried in the raw "event" field.
type Kind string

const (
	KindMobileAppInstall Kind = "MOBILE_APP_INSTALL"
	KindCustomAppEvents  Kind = "CUSTOM_APP_EVENTS"
	KindOther            Kind = "OTHER"
)

const (
	ActionSourceApp      = "app"
	EventNameAppInstall  = "MobileAppInstall"
	customEventKeyPrefix = "_"
)

// Section is the gateway sub-map a top level field is routed into.
type Section int

const (
	SectionUserData Section = iota
	SectionAppData
)

// UserAppField enumerates the raw fields routed into user_data or app_data.
type UserAppField string

const (
	FieldAnonID                     UserAppField = "anon_id"
	FieldAppUserID                  UserAppField = "app_user_id"
	FieldAdvertiserID               UserAppField = "advertiser_id"
	FieldPageID                     UserAppField = "page_id"
	FieldPageScopedUserID           UserAppField = "page_scoped_user_id"
	FieldUserData                   UserAppField = "ud"
	FieldAdvertiserTrackingEnabled  UserAppField = "advertiser_tracking_enabled"
	FieldApplicationTrackingEnabled UserAppField = "application_tracking_enabled"
	FieldConsiderViews              UserAppField = "consider_views"
	FieldDeviceToken                UserAppField = "device_token"
	FieldExtInfo                    UserAppField = "extinfo"
	FieldIncludeDwellData           UserAppField = "include_dwell_data"
	FieldIncludeVideoData           UserAppField = "include_video_data"
	FieldInstallReferrer            UserAppField = "install_referrer"
	FieldInstallerPackage           UserAppField = "installer_package"
	FieldReceiptData                UserAppField = "receipt_data"
	FieldURLSchemes                 UserAppField = "url_schemes"
)

type route struct {
	field   UserAppField
	section Section
	key     string
}

// userAppRoutes is ordered so output does not depend on map iteration.
// FieldUserData is handled separately: its JSON payload is merged into
// user_data after every routed field.
var userAppRoutes = []route{
	{FieldAnonID, SectionUserData, "anon_id"},
	{FieldAppUserID, SectionUserData, "fb_login_id"},
	{FieldAdvertiserID, SectionUserData, "madid"},
	{FieldPageID, SectionUserData, "page_id"},
	{FieldPageScopedUserID, SectionUserData, "page_scoped_user_id"},
	{FieldAdvertiserTrackingEnabled, SectionAppData, "advertiser_tracking_enabled"},
	{FieldApplicationTrackingEnabled, SectionAppData, "application_tracking_enabled"},
	{FieldConsiderViews, SectionAppData, "consider_views"},
	{FieldDeviceToken, SectionAppData, "device_token"},
	{FieldExtInfo, SectionAppData, "extinfo"},
	{FieldIncludeDwellData, SectionAppData, "include_dwell_data"},
	{FieldIncludeVideoData, SectionAppData, "include_video_data"},
	{FieldInstallReferrer, SectionAppData, "install_referrer"},
	{FieldInstallerPackage, SectionAppData, "installer_package"},
	{FieldReceiptData, SectionAppData, "receipt_data"},
	{FieldURLSchemes, SectionAppData, "url_schemes"},
}

// DataProcessingField enumerates the options copied to the top level of
// every event.
type DataProcessingField string

const (
	FieldDataProcessingOptions        DataProcessingField = "data_processing_options"
	FieldDataProcessingOptionsCountry DataProcessingField = "data_processing_options_country"
	FieldDataProcessingOptionsState   DataProcessingField = "data_processing_options_state"
)

// CustomEventField enumerates the known keys of a custom sub-event.
type CustomEventField string

const (
	FieldEventName            CustomEventField = "_eventName"
	FieldEventTime            CustomEventField = "_logTime"
	FieldValueToSum           CustomEventField = "_valueToSum"
	FieldContentIDs           CustomEventField = "fb_content_id"
	FieldContent              CustomEventField = "fb_content"
	FieldContentType          CustomEventField = "fb_content_type"
	FieldDescription          CustomEventField = "fb_description"
	FieldLevel                CustomEventField = "fb_level"
	FieldMaxRatingValue       CustomEventField = "fb_max_rating_value"
	FieldNumItems             CustomEventField = "fb_num_items"
	FieldPaymentInfoAvailable CustomEventField = "fb_payment_info_available"
	FieldRegistrationMethod   CustomEventField = "fb_registration_method"
	FieldSearchString         CustomEventField = "fb_search_string"
	FieldSuccess              CustomEventField = "fb_success"
	FieldOrderID              CustomEventField = "fb_order_id"
	FieldAdType               CustomEventField = "ad_type"
	FieldCurrency             CustomEventField = "fb_currency"
)

// customDataKeys maps sub-event fields into custom_data. _eventName and
// _logTime are promoted to the event itself and are absent here.
var customDataKeys = map[CustomEventField]string{
	FieldValueToSum:           "value",
	FieldContentIDs:           "content_ids",
	FieldContent:              "contents",
	FieldContentType:          "content_type",
	FieldDescription:          "description",
	FieldLevel:                "level",
	FieldMaxRatingValue:       "max_rating_value",
	FieldNumItems:             "num_items",
	FieldPaymentInfoAvailable: "payment_info_available",
	FieldRegistrationMethod:   "registration_method",
	FieldSearchString:         "search_string",
	FieldSuccess:              "success",
	FieldOrderID:              "order_id",
	FieldAdType:               "ad_type",
	FieldCurrency:             "currency",
}

// ValueType drives coercion of a raw value before it is emitted.
type ValueType int

const (
	ValueArray ValueType = iota + 1
	ValueBool
	ValueInt
)

var valueTypes = map[string]ValueType{
	string(FieldAdvertiserTrackingEnabled):    ValueBool,
	string(FieldApplicationTrackingEnabled):   ValueBool,
	string(FieldConsiderViews):                ValueBool,
	string(FieldIncludeDwellData):             ValueBool,
	string(FieldIncludeVideoData):             ValueBool,
	string(FieldExtInfo):                      ValueArray,
	string(FieldURLSchemes):                   ValueArray,
	string(FieldDataProcessingOptions):        ValueArray,
	string(FieldDataProcessingOptionsCountry): ValueInt,
	string(FieldDataProcessingOptionsState):   ValueInt,
	string(FieldContentIDs):                   ValueArray,
	string(FieldContent):                      ValueArray,
	string(FieldPaymentInfoAvailable):         ValueBool,
	string(FieldSuccess):                      ValueBool,
	string(FieldEventTime):                    ValueInt,
	FieldInstallTimestamp:                     ValueInt,
}

// standardEventNames maps recognized app event names to gateway names. An
// empty value marks a recognized name the gateway has no equivalent for.
var standardEventNames = map[string]string{
	"fb_mobile_achievement_unlocked":  "UnlockAchievement",
	"fb_mobile_activate_app":          "ActivateApp",
	"fb_mobile_add_payment_info":      "AddPaymentInfo",
	"fb_mobile_add_to_cart":           "AddToCart",
	"fb_mobile_add_to_wishlist":       "AddToWishlist",
	"fb_mobile_complete_registration": "CompleteRegistration",
	"fb_mobile_content_view":          "ViewContent",
	"fb_mobile_initiated_checkout":    "InitiateCheckout",
	"fb_mobile_level_achieved":        "AchieveLevel",
	"fb_mobile_purchase":              "Purchase",
	"fb_mobile_rate":                  "Rate",
	"fb_mobile_search":                "Search",
	"fb_mobile_spent_credits":         "SpendCredits",
	"fb_mobile_tutorial_completion":   "CompleteTutorial",
	"AdClick":                         "AdClick",
	"AdImpression":                    "AdImpression",
	"Contact":                         "Contact",
	"CustomizeProduct":                "CustomizeProduct",
	"Donate":                          "Donate",
	"FindLocation":                    "FindLocation",
	"Schedule":                        "Schedule",
	"StartTrial":                      "StartTrial",
	"SubmitApplication":               "SubmitApplication",
	"Subscribe":                       "Subscribe",
	"fb_mobile_deactivate_app":        "",
	"fb_mobile_app_interruptions":     "",
	"fb_mobile_time_between_sessions": "",
	"fb_sdk_initialize":               "",
}
