// Package h265 decodes H.265 sequence parameter sets, including the
// profile_tier_level, scaling_list_data and st_ref_pic_set structures they
// embed.
package h265
